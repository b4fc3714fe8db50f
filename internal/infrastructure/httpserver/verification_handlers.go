package httpserver

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
)

const (
	opStart    = "start"
	opResend   = "resend"
	opVerify   = "verify"
	opGet      = "get"
	opComplete = "complete"
)

// deliveryFailure is returned when the session was stored but the email could not be sent.
// The view lets the caller retry through resend.
type deliveryFailure struct {
	Message string            `json:"message"`
	Session verification.View `json:"session"`
}

func (s *Server) startVerification(c echo.Context) error {
	var req verification.StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		recordOutcome(opStart, "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := s.verificationSvc.Start(c.Request().Context(), req.Email, req.Purpose)
	if err != nil {
		if session != nil {
			return s.deliveryFailed(c, opStart, session, err)
		}
		return s.verificationError(c, opStart, err)
	}

	recordOutcome(opStart, string(session.Status))
	return c.JSON(http.StatusCreated, session.View())
}

func (s *Server) resendVerification(c echo.Context) error {
	handle := c.Param("handle")
	session, err := s.verificationSvc.Resend(c.Request().Context(), handle)
	if err != nil {
		if session != nil {
			return s.deliveryFailed(c, opResend, session, err)
		}
		if errors.Is(err, verification.ErrCooldownActive) {
			s.setRetryAfter(c, handle)
		}
		return s.verificationError(c, opResend, err)
	}

	recordOutcome(opResend, "ok")
	return c.JSON(http.StatusOK, session.View())
}

func (s *Server) verifyCode(c echo.Context) error {
	var req verification.VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		recordOutcome(opVerify, "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	handle := c.Param("handle")
	ok, err := s.verificationSvc.Verify(ctx, handle, req.Code)
	if err != nil {
		return s.verificationError(c, opVerify, err)
	}

	resp := verification.VerifyResponse{Verified: ok}
	session, err := s.verificationSvc.Get(ctx, handle)
	switch {
	case err == nil:
		resp.Status = session.Status
	case errors.Is(err, verification.ErrSessionNotFound):
		recordOutcome(opVerify, "not_found")
		return echo.NewHTTPError(http.StatusNotFound, "verification session not found")
	default:
		return s.verificationError(c, opVerify, err)
	}

	if ok {
		recordOutcome(opVerify, "verified")
	} else {
		recordOutcome(opVerify, "rejected_"+string(resp.Status))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getVerification(c echo.Context) error {
	session, err := s.verificationSvc.Get(c.Request().Context(), c.Param("handle"))
	if err != nil {
		return s.verificationError(c, opGet, err)
	}
	return c.JSON(http.StatusOK, session.View())
}

func (s *Server) completeVerification(c echo.Context) error {
	if err := s.verificationSvc.Complete(c.Request().Context(), c.Param("handle")); err != nil {
		return s.verificationError(c, opComplete, err)
	}
	recordOutcome(opComplete, "ok")
	return c.NoContent(http.StatusNoContent)
}

// verificationError maps domain sentinels to HTTP errors. Anything unknown is an
// infrastructure failure and is logged, not echoed to the client.
func (s *Server) verificationError(c echo.Context, op string, err error) error {
	var (
		code    int
		outcome string
	)
	switch {
	case errors.Is(err, verification.ErrInvalidPurpose):
		code, outcome = http.StatusBadRequest, "invalid"
	case errors.Is(err, verification.ErrSessionNotFound):
		code, outcome = http.StatusNotFound, "not_found"
	case errors.Is(err, verification.ErrSessionLocked):
		code, outcome = http.StatusConflict, "locked"
	case errors.Is(err, verification.ErrAlreadyCompleted):
		code, outcome = http.StatusConflict, "completed"
	case errors.Is(err, verification.ErrResendLimitReached):
		code, outcome = http.StatusTooManyRequests, "limit_reached"
	case errors.Is(err, verification.ErrCooldownActive):
		code, outcome = http.StatusTooManyRequests, "cooldown"
	default:
		recordOutcome(op, "error")
		if s.logger != nil {
			s.logger.WithField("operation", op).WithError(err).Error("verification operation failed")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	recordOutcome(op, outcome)
	return echo.NewHTTPError(code, err.Error())
}

func (s *Server) deliveryFailed(c echo.Context, op string, session *verification.Session, err error) error {
	recordOutcome(op, "delivery_failed")
	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"operation":  op,
			"session_id": session.ID,
		}).WithError(err).Error("verification email not delivered")
	}
	return c.JSON(http.StatusBadGateway, deliveryFailure{
		Message: "verification email could not be sent",
		Session: session.View(),
	})
}

// setRetryAfter sets Retry-After to the whole seconds left in the resend cooldown.
func (s *Server) setRetryAfter(c echo.Context, handle string) {
	session, err := s.verificationSvc.Get(c.Request().Context(), handle)
	if err != nil {
		return
	}
	wait := session.CooldownEndsAt(s.resendCooldown).Sub(s.now())
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
}
