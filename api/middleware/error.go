package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-assistant/api/model"
	"github.com/fyerfyer/doc-rag-assistant/internal/document"
	"github.com/fyerfyer/doc-rag-assistant/internal/services"
	"github.com/fyerfyer/doc-rag-assistant/internal/vectordb"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation = "VALIDATION_ERROR"  // 输入验证错误
	ErrorTypeNotFound   = "NOT_FOUND_ERROR"   // 资源不存在错误
	ErrorTypeExtraction = "EXTRACTION_ERROR"  // 文档无法处理
	ErrorTypeUpstream   = "UPSTREAM_ERROR"    // 生成服务失败
	ErrorTypeTooLarge   = "PAYLOAD_TOO_LARGE" // 上传文件过大
	ErrorTypeInternal   = "INTERNAL_ERROR"    // 内部服务器错误
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // HTTP状态码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// NewTooLargeError 创建上传过大错误
func NewTooLargeError(message string) AppError {
	return AppError{
		Type:    ErrorTypeTooLarge,
		Message: message,
		Code:    http.StatusRequestEntityTooLarge,
	}
}

// FromServiceError 把服务层错误映射为HTTP错误
func FromServiceError(err error) AppError {
	var (
		appErr     AppError
		extractErr *document.ExtractionError
		ingestErr  *services.IngestionError
		answerErr  *services.AnswerError
	)

	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, vectordb.ErrEmptyQuery):
		return NewValidationError("query must not be empty")
	case errors.Is(err, services.ErrSessionNotPrepared), errors.Is(err, vectordb.ErrCollectionNotFound):
		return NewNotFoundError("session not found")
	case errors.As(err, &extractErr), errors.As(err, &ingestErr):
		return AppError{
			Type:    ErrorTypeExtraction,
			Message: "document could not be processed",
			Details: err.Error(),
			Code:    http.StatusUnprocessableEntity,
		}
	case errors.As(err, &answerErr):
		return AppError{
			Type:    ErrorTypeUpstream,
			Message: "answer generation failed",
			Details: answerErr.Stage,
			Code:    http.StatusBadGateway,
		}
	default:
		return NewInternalError("internal server error", err.Error())
	}
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					FieldError:   r,
					"stack":      string(debug.Stack()),
					FieldPath:    c.Request.URL.Path,
					FieldTraceID: c.GetString(TraceIDKey),
				}).Error("Panic recovered in API request")

				resp := model.NewErrorResponse(http.StatusInternalServerError, "An unexpected error occurred")
				resp.TraceID = c.GetString(TraceIDKey)
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr := FromServiceError(err)
		traceID := c.GetString(TraceIDKey)

		entry := log.WithFields(logrus.Fields{
			"error_type":  appErr.Type,
			FieldTraceID: traceID,
			FieldPath:    c.Request.URL.Path,
			FieldError:   err.Error(),
		})
		if appErr.Code >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		resp := model.NewErrorResponse(appErr.Code, appErr.Message)
		resp.TraceID = traceID
		// 调试模式下返回详细错误信息
		if gin.Mode() == gin.DebugMode && appErr.Details != "" {
			resp.Message = appErr.Message + ": " + appErr.Details
		}

		c.AbortWithStatusJSON(appErr.Code, resp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
