package streaming

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	envelopeStart = "<soapenv:Envelope xmlns:soapenv='http://schemas.xmlsoap.org/soap/envelope/' " +
		"xmlns:xsi='http://www.w3.org/2001/XMLSchema-instance' " +
		"xmlns:urn='urn:partner.soap.sforce.com'><soapenv:Body>"
	envelopeEnd = "</soapenv:Body></soapenv:Envelope>"

	elementSessionID   = "sessionId"
	elementServerURL   = "serverUrl"
	elementFaultString = "faultstring"
)

// Credentials are the result of a successful login.
type Credentials struct {
	SessionToken string
	ServiceHost  string
}

func escapeXML(text string) string {
	var buffer strings.Builder
	_ = xml.EscapeText(&buffer, []byte(text))
	return buffer.String()
}

func loginEnvelope(username string, password string) []byte {
	return []byte(envelopeStart +
		"<urn:login>" +
		"<urn:username>" + escapeXML(username) + "</urn:username>" +
		"<urn:password>" + escapeXML(password) + "</urn:password>" +
		"</urn:login>" +
		envelopeEnd)
}

// ServiceHost reduces a server URL to scheme://host[:port].
func ServiceHost(serverURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", NewError(MalformedResponseError, fmt.Sprintf("invalid serverUrl %q", serverURL), err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", NewError(MalformedResponseError, fmt.Sprintf("serverUrl %q has no scheme or host", serverURL))
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// Login performs the SOAP login exchange once. It never retries.
func Login(ctx context.Context, cfg Config, doer Doer, list ...RequestObserver) (Credentials, error) {
	cfg = cfg.withDefaults()
	if doer == nil {
		doer = NewHTTPClient(cfg.ConnectTimeout.Std(), cfg.ReadTimeout.Std())
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout.Std()+cfg.ReadTimeout.Std())
	defer cancel()

	loginURL := cfg.LoginURL()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(loginEnvelope(cfg.Username, cfg.Password)))
	if err != nil {
		return Credentials{}, stageError(InvalidConfigError, stageLogin, fmt.Sprintf("building request for %s", loginURL), err)
	}
	request.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	request.Header.Set("SOAPAction", "''")
	request.Header.Set("PrettyPrint", "Yes")

	started := time.Now()
	event := RequestEvent{Stage: stageLogin, Method: request.Method, URL: loginURL, Attempt: 1}
	notify := observers(list)

	event.Kind = EventSent
	notify.notify(event)

	response, err := doer.Do(request)
	if err != nil {
		event.Kind, event.Err, event.Elapsed = EventFailed, err, time.Since(started)
		if isTimeout(err) || ctx.Err() != nil {
			event.Kind = EventExpired
		}
		notify.notify(event)
		return Credentials{}, stageError(TransportError, stageLogin, loginURL, err)
	}
	defer response.Body.Close()

	event.Kind, event.Status, event.Elapsed = EventHeaderReceived, response.StatusCode, time.Since(started)
	notify.notify(event)

	var raw bytes.Buffer
	fields, scanErr := ScanElements(io.TeeReader(response.Body, &raw), elementSessionID, elementServerURL, elementFaultString)
	// keep whatever the scanner did not consume for diagnostics
	_, _ = io.Copy(&raw, response.Body)

	event.Kind, event.Bytes, event.Response, event.Elapsed = EventBodyReceived, raw.Len(), raw.Bytes(), time.Since(started)
	notify.notify(event)

	if scanErr != nil {
		if ctx.Err() != nil {
			event.Kind, event.Err, event.Response = EventExpired, scanErr, nil
			notify.notify(event)
			return Credentials{}, stageError(TransportError, stageLogin, "reading login response", ctx.Err())
		}
		event.Kind, event.Err, event.Response = EventFailed, scanErr, nil
		notify.notify(event)
		malformed := stageError(MalformedResponseError, stageLogin, fmt.Sprintf("HTTP %d from %s", response.StatusCode, loginURL), scanErr).(*Error)
		malformed.Detail = raw.String()
		return Credentials{}, malformed
	}

	event.Kind, event.Response = EventCompleted, nil
	notify.notify(event)

	sessionID := fields[elementSessionID]
	serverURL := fields[elementServerURL]
	if sessionID == "" || serverURL == "" {
		message := fmt.Sprintf("login failed for username=[%s] at [%s] (HTTP %d)", cfg.Username, loginURL, response.StatusCode)
		if fault := fields[elementFaultString]; fault != "" {
			message += ": " + fault
		}
		rejected := stageError(AuthRejectedError, stageLogin, message).(*Error)
		rejected.Detail = raw.String()
		return Credentials{}, rejected
	}

	host, err := ServiceHost(serverURL)
	if err != nil {
		typed := err.(*Error)
		typed.Stage = stageLogin
		return Credentials{}, typed
	}

	return Credentials{SessionToken: sessionID, ServiceHost: host}, nil
}
