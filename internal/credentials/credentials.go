// Package credentials validates the Unpaywall contact address and builds
// request URLs that carry it.
package credentials

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/helixir/unpaywall-client/internal/domain"
)

// DefaultBaseURL is the Unpaywall v2 API root.
const DefaultBaseURL = "https://api.unpaywall.org/v2"

// EmailEnv is the environment variable holding the contact address.
const EmailEnv = "UNPAYWALL_EMAIL"

var emailPattern = regexp.MustCompile(`^[\w\.\+\-]+@[\w]+\.[a-z]{2,3}$`)

// ValidateEmail checks that email is usable as the Unpaywall contact address.
// All failures are domain.ErrInvalidCredential validation errors.
func ValidateEmail(email string) error {
	if email == "" {
		return domain.NewValidationError(domain.ErrInvalidCredential, "email",
			"an email address is required in order to work with the Unpaywall API")
	}
	if !emailPattern.MatchString(email) {
		return domain.NewValidationError(domain.ErrInvalidCredential, "email",
			"no valid email address entered")
	}
	if strings.Contains(email, "example.com") {
		return domain.NewValidationError(domain.ErrInvalidCredential, "email",
			"do not use example.com")
	}
	return nil
}

// URLBuilder builds Unpaywall request URLs.
type URLBuilder struct {
	baseURL string
	email   string
}

// NewURLBuilder creates a URLBuilder. An empty baseURL selects DefaultBaseURL.
// The email is validated when a URL is built, not here.
func NewURLBuilder(baseURL, email string) *URLBuilder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &URLBuilder{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
	}
}

// BaseURL returns the API root without a trailing slash.
func (b *URLBuilder) BaseURL() string {
	return b.baseURL
}

// Email returns the configured contact address.
func (b *URLBuilder) Email() string {
	return b.email
}

// DOIURL returns {base}/{doi}?email={email}.
// The DOI path is kept verbatim, slashes included.
func (b *URLBuilder) DOIURL(doi string) (string, error) {
	if err := ValidateEmail(b.email); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("email", b.email)

	return fmt.Sprintf("%s/%s?%s", b.baseURL, escapeDOI(doi), params.Encode()), nil
}

// QueryURL returns {base}/search?query={query}&is_oa={isOA}&email={email}.
// A nil isOA omits the filter.
func (b *URLBuilder) QueryURL(query string, isOA *bool) (string, error) {
	if err := ValidateEmail(b.email); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("query", query)
	if isOA != nil {
		params.Set("is_oa", strconv.FormatBool(*isOA))
	}
	params.Set("email", b.email)

	return fmt.Sprintf("%s/search?%s", b.baseURL, params.Encode()), nil
}

// escapeDOI escapes each path segment of a DOI while keeping its slashes.
func escapeDOI(doi string) string {
	parts := strings.Split(doi, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
