package httpx

import (
	"net/http"
	"time"
)

// Local inference hosts can take minutes on a long forensic prompt, so the
// default is more generous than a typical API timeout.
const defaultExternalHTTPTimeout = 120 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// ExternalHTTPClient is the client shared by every outbound integration:
// model providers and Slack.
func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
