package identity

import (
	"context"
	"fmt"
)

const (
	confirmEmailSubject = "Confirm your Email"
	resetEmailSubject   = "Reset Your Password"
)

func confirmEmailBody(link string) string {
	return "Hello,\n\nClick the following link to confirm your email " + link
}

func resetEmailBody(link string) string {
	return "Hello,\n\nYou or someone else has requested that a new password " +
		"be generated for your account. If you made this request, then " +
		"please follow this link: " + link
}

// confirmLink and resetLink build the URLs embedded in outbound mail. The
// site root always ends in a slash (see StaticConfig.GetSiteURL).
func confirmLink(root, token string) string {
	return root + "confirm/" + token
}

func resetLink(root string, id int64, token string) string {
	return fmt.Sprintf("%sreset/%d/%s", root, id, token)
}

// logNotifier prints outbound mail instead of delivering it. Development
// default; production wires a real Notifier.
type logNotifier struct {
	logger Logger
}

// NewLogNotifier returns a Notifier that logs messages instead of
// sending them.
func NewLogNotifier(logger Logger) Notifier {
	if logger == nil {
		logger = defLogger{}
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.logger.Info("outbound email to %s [%s]: %s", recipient, subject, body)
	return nil
}
