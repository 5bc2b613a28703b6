package warden

import "context"

// Mailer delivers the transactional mail the engine triggers: verification
// links, password reset links, and post-reset security notices. warden
// never speaks SMTP itself; integrators bring their own delivery.
//
// Sends are dispatched on a background goroutine so login-path latency
// never includes mail transport. A failed send is reported through the
// audit sink as a mail_dispatch_failed event and otherwise dropped.
//
//	Docs: docs/engine.md
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to string, token string) error
	SendPasswordResetEmail(ctx context.Context, to string, token string) error
	SendSecurityNotice(ctx context.Context, to string, notice string) error
}

type noopMailer struct{}

func (noopMailer) SendVerificationEmail(context.Context, string, string) error  { return nil }
func (noopMailer) SendPasswordResetEmail(context.Context, string, string) error { return nil }
func (noopMailer) SendSecurityNotice(context.Context, string, string) error     { return nil }

const auditEventMailDispatchFailed = "mail_dispatch_failed"

// dispatchMail runs send on its own goroutine, detached from the caller's
// cancellation. Engine.Close waits for in-flight sends.
func (e *Engine) dispatchMail(ctx context.Context, kind, userID, to string, send func(context.Context) error) {
	if e.mailer == nil {
		return
	}

	detached := context.WithoutCancel(ctx)

	e.mailWG.Add(1)
	go func() {
		defer e.mailWG.Done()

		if err := send(detached); err != nil {
			e.emitAudit(detached, auditEventMailDispatchFailed, false, userID, "", err, func() map[string]string {
				return map[string]string{
					"mail_kind": kind,
					"recipient": to,
					"cause":     err.Error(),
				}
			})
		}
	}()
}
