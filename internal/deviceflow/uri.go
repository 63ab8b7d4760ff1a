package deviceflow

import (
	"fmt"
	"net/url"
)

// verificationURIs validates the URIs returned per RFC 8628 sections 3.2 and 3.3.1.
// verification_uri is required; an invalid verification_uri_complete is dropped
// since the user can still enter the code by hand.
func verificationURIs(base, complete string) (string, string, error) {
	if base == "" {
		return "", "", fmt.Errorf("response missing verification_uri")
	}
	if err := validateURI(base); err != nil {
		return "", "", fmt.Errorf("invalid verification_uri: %w", err)
	}

	if complete != "" && validateURI(complete) != nil {
		complete = ""
	}

	return base, complete, nil
}

func validateURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
