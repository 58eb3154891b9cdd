package vkng

import (
	log "github.com/sirupsen/logrus"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
)

// debugLogger forwards validation messages to logrus
type debugLogger struct {
	log log.FieldLogger
}

func (d *debugLogger) createInfo() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityVerbose,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    d.logDebug,
	}
}

func (d *debugLogger) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	d.log.WithField("type", msgType).Log(severityLevel(severity), data.Message)
	return false
}

func severityLevel(severity ext_debug_utils.DebugUtilsMessageSeverityFlags) log.Level {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return log.ErrorLevel
	case severity&ext_debug_utils.SeverityWarning != 0:
		return log.WarnLevel
	case severity&ext_debug_utils.SeverityInfo != 0:
		return log.DebugLevel
	}
	return log.TraceLevel
}
