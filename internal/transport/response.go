package transport

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/transport/middleware"
)

// SuccessResponse представляет успешный ответ
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой. Для 409 по пересечению
// заполняются next_available и conflicts, для 400 по полям - fields.
type ErrorResponse struct {
	Success       bool                `json:"success"`
	Error         string              `json:"error"`
	Fields        map[string][]string `json:"fields,omitempty"`
	NextAvailable *time.Time          `json:"next_available,omitempty"`
	Conflicts     []*entity.Booking   `json:"conflicts,omitempty"`
}

const dateLayout = "2006-01-02"

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: msg})
}

// respondError переводит доменную ошибку в HTTP-ответ. Внутренние ошибки
// логируются целиком, клиенту уходит общее сообщение.
func respondError(c *gin.Context, log *logrus.Entry, err error) {
	if conflict, ok := entity.AsConflict(err); ok {
		c.JSON(http.StatusConflict, ErrorResponse{
			Success:       false,
			Error:         conflict.Message,
			NextAvailable: conflict.NextAvailable,
			Conflicts:     conflict.Conflicts,
		})
		return
	}

	var validation *entity.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   entity.ErrValidation.Error(),
			Fields:  validation.Fields(),
		})
		return
	}

	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusBadGateway:
		middleware.LoggerFrom(c, log).WithError(err).Error("Ошибка платежного шлюза")
		msg = "payment gateway unavailable, try again later"
	case http.StatusInternalServerError:
		middleware.LoggerFrom(c, log).WithError(err).Error("Внутренняя ошибка при обработке запроса")
		msg = "internal server error"
	}

	c.JSON(status, ErrorResponse{Success: false, Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, entity.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, entity.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func actorOrAbort(c *gin.Context) (*entity.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Success: false, Error: entity.ErrUnauthorized.Error()})
		return nil, false
	}
	return actor, true
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt64(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return nil, false
	}
	return &v, true
}

// queryInterval читает пару start/end в любом из поддерживаемых форматов
func queryInterval(c *gin.Context) (time.Time, time.Time, bool) {
	start, err := entity.ParseFlexibleTime(c.Query("start"))
	if err != nil {
		badRequest(c, "invalid start: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	end, err := entity.ParseFlexibleTime(c.Query("end"))
	if err != nil {
		badRequest(c, "invalid end: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func queryDate(c *gin.Context, loc *time.Location, now time.Time) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		n := now.In(loc)
		return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc), true
	}
	date, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		badRequest(c, "invalid date, expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}
