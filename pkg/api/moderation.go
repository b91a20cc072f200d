package api

import (
	cerrors "github.com/factline/cli/pkg/errors"
	json "github.com/json-iterator/go"
)

// ModerationDetail explains a moderation rejection. The server sends either
// a bare message string or an object.
type ModerationDetail struct {
	Message  string   `json:"message"`
	Category string   `json:"category,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// UnmarshalJSON accepts both "reason" and {"message": "...", ...}.
func (m *ModerationDetail) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*m = ModerationDetail{Message: text}
		return nil
	}

	type plain ModerationDetail
	var obj struct {
		plain
		Reason string `json:"reason,omitempty"`
		Detail string `json:"detail,omitempty"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = ModerationDetail(obj.plain)
	if m.Message == "" {
		m.Message = obj.Detail
	}
	if obj.Reason != "" {
		m.Reasons = append(m.Reasons, obj.Reason)
	}
	return nil
}

// Err converts the detail into a structured moderation error.
func (m ModerationDetail) Err(statusCode int) *cerrors.CLIError {
	return cerrors.ModerationError(statusCode, cerrors.Moderation{
		Message:  m.Message,
		Category: m.Category,
		Reasons:  m.Reasons,
	})
}
