package policy

import "fmt"

// ConfigurationError 策略配置错误（未知策略名、文档格式错误），只在启动时出现
type ConfigurationError struct {
	Table string // 空表示文档级或默认策略
	Key   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Table != "" && e.Key != "":
		return fmt.Sprintf("conflict resolution config: table %q: %s: %v", e.Table, e.Key, e.Err)
	case e.Table != "":
		return fmt.Sprintf("conflict resolution config: table %q: %v", e.Table, e.Err)
	case e.Key != "":
		return fmt.Sprintf("conflict resolution config: %s: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("conflict resolution config: %v", e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
