package checks

import (
	"context"
	"strings"

	"github.com/lalchand07/Auditly/internal/audit"
)

// HeaderInspector navigates the session to the target and reads the
// security headers of the document response.
type HeaderInspector struct{}

// Run performs the navigation later checks rely on.
func (HeaderInspector) Run(ctx context.Context, sess audit.Session, url string) (audit.SecurityHeaders, error) {
	resp, err := sess.Navigate(ctx, url)
	if err != nil {
		return audit.SecurityHeaders{}, err
	}
	return ExtractSecurityHeaders(resp), nil
}

// ExtractSecurityHeaders picks the four inspected headers from resp.
// Absent or empty headers stay nil.
func ExtractSecurityHeaders(resp audit.Response) audit.SecurityHeaders {
	get := func(name string) *string {
		values := resp.Headers.Values(name)
		if len(values) == 0 {
			return nil
		}
		v := strings.Join(values, ", ")
		if v == "" {
			return nil
		}
		return &v
	}
	return audit.SecurityHeaders{
		ContentSecurityPolicy:   get(audit.HeaderContentSecurityPolicy),
		StrictTransportSecurity: get(audit.HeaderStrictTransportSecurity),
		XFrameOptions:           get(audit.HeaderXFrameOptions),
		XContentTypeOptions:     get(audit.HeaderXContentTypeOptions),
	}
}
