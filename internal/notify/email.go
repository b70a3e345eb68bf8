package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"social-post-orchestrator/internal/retry"
)

var reviewTemplate = template.Must(template.New("review").Parse(`<h2>Daily X Draft ({{.RiskLevel}})</h2>
<p><strong>Policy Action:</strong> {{.Action}}</p>
<div style="border:1px solid #ccc;padding:15px;background:#f9f9f9;margin:10px 0;">
  <pre style="white-space:pre-wrap;font-size:14px;">{{.Rendered}}</pre>
</div>
<h3>Policy Check:</h3>
<ul>
{{range .Checks}}  <li>{{.CheckName}}: {{if .Passed}}PASS{{else}}FAIL{{end}} - {{.Details}}</li>
{{end}}</ul>
<div style="margin-top:20px;">
  <a href="{{.ApproveLink}}" style="background:green;color:white;padding:10px 20px;text-decoration:none;margin-right:10px;">Approve &amp; Post</a>
  <a href="{{.EditLink}}" style="background:blue;color:white;padding:10px 20px;text-decoration:none;margin-right:10px;">Edit</a>
  <a href="{{.SkipLink}}" style="background:gray;color:white;padding:10px 20px;text-decoration:none;">Skip</a>
</div>
`))

// EmailNotifier sends the review email over SMTP.
type EmailNotifier struct {
	Addr    string // host:port
	From    string
	To      string
	BaseURL string // console base, links are {base}/drafts/{id}/{action}?token=...
	Policy  retry.Policy

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr, from string, to []string, msg []byte) error
}

// NewEmailNotifier builds an SMTP notifier.
func NewEmailNotifier(addr, from, to, baseURL string, policy retry.Policy) *EmailNotifier {
	return &EmailNotifier{
		Addr:    addr,
		From:    from,
		To:      to,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Policy:  policy,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// SetSender overrides the SMTP send function. Test hook.
func (n *EmailNotifier) SetSender(send func(addr, from string, to []string, msg []byte) error) {
	n.send = send
}

func (n *EmailNotifier) NotifyReview(ctx context.Context, r Review) error {
	rendered := strings.Join(r.Draft.Tweets, "\n\n")
	preview := rendered
	if len(preview) > 30 {
		preview = preview[:30]
	}

	action, risk := "PASS", "LOW"
	if r.Draft.PolicyReport != nil {
		action = r.Draft.PolicyReport.Action
		risk = r.Draft.PolicyReport.RiskLevel
	}

	data := struct {
		RiskLevel, Action, Rendered     string
		Checks                          any
		ApproveLink, EditLink, SkipLink string
	}{
		RiskLevel:   risk,
		Action:      action,
		Rendered:    rendered,
		ApproveLink: n.actionLink(r, "approve"),
		EditLink:    n.actionLink(r, "edit"),
		SkipLink:    n.actionLink(r, "skip"),
	}
	if r.Draft.PolicyReport != nil {
		data.Checks = r.Draft.PolicyReport.Checks
	}

	var body bytes.Buffer
	if err := reviewTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("render review email: %w", err)
	}

	subject := fmt.Sprintf("Daily X Draft: %s - %s...", action, preview)
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", n.From, n.To, subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.Write(body.Bytes())

	return n.Policy.Do(ctx, func(ctx context.Context) error {
		if err := n.send(n.Addr, n.From, []string{n.To}, msg.Bytes()); err != nil {
			return retry.Transient(fmt.Errorf("send review email: %w", err))
		}
		return nil
	})
}

func (n *EmailNotifier) actionLink(r Review, action string) string {
	return fmt.Sprintf("%s/drafts/%s/%s?token=%s", n.BaseURL, r.Draft.ID, action, r.RawToken)
}
