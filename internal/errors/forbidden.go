package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForbiddenReason represents machine-readable reason codes for 403 errors.
type ForbiddenReason string

const (
	ReasonLabelNotOwned   ForbiddenReason = "label_not_owned"
	ReasonSessionNotReady ForbiddenReason = "session_not_ready"
	ReasonAclEmpty        ForbiddenReason = "acl_empty"
)

// ForbiddenError represents a standardized 403 Forbidden response.
type ForbiddenError struct {
	Error   string                 `json:"error"`
	Reason  ForbiddenReason        `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewForbiddenError creates a new ForbiddenError with the given parameters.
func NewForbiddenError(reason ForbiddenReason, errorMsg string, details map[string]interface{}) *ForbiddenError {
	return &ForbiddenError{
		Error:   errorMsg,
		Reason:  reason,
		Details: details,
	}
}

// AbortWithForbidden sends a 403 response with the ForbiddenError and aborts the request.
func AbortWithForbidden(c *gin.Context, err *ForbiddenError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// LabelNotOwned creates a ForbiddenError for a session label outside the caller's ACL.
func LabelNotOwned(label string) *ForbiddenError {
	return NewForbiddenError(
		ReasonLabelNotOwned,
		"you do not have access to session label '"+label+"'",
		map[string]interface{}{"label": label},
	)
}

// SessionNotReady creates a ForbiddenError for send attempts against a non-ready session.
func SessionNotReady(accountID, label, status string) *ForbiddenError {
	return NewForbiddenError(
		ReasonSessionNotReady,
		"session is not ready (status="+status+")",
		map[string]interface{}{"account_id": accountID, "label": label, "status": status},
	)
}
