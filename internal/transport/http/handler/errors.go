package handler

const (
	errInternalServer  = "internal_server_error"
	errInvalidJSON     = "invalid_request_body"
	errInvalidEmail    = "invalid_email"
	errSuspiciousEmail = "suspicious_email"
	errEmailSend       = "email_send_failure"
	errUnauthorized    = "unauthorized"
	errSessionMismatch = "session_mismatch"
	errSessionNotFound = "session_not_found"
	errQuestionIndex   = "invalid_question_index"
	errAnswerTooLong   = "answer_too_long"
)
