package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供内容键/端点/格式/命中状态字段，供媒体请求日志复用。
func RequestFields(videoID, endpoint, format string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"video_id":  videoID,
		"endpoint":  endpoint,
		"format":    format,
		"cache_hit": cacheHit,
	}
}
