package main

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
)

const invalidLoginFault = "INVALID_LOGIN: Invalid username, password, security token; or user locked out."

type loginRequest struct {
	XMLName  xml.Name `xml:"Envelope"`
	Username string   `xml:"Body>login>username"`
	Password string   `xml:"Body>login>password"`
}

func newSessionToken() string {
	return "00D000000000001!" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func escape(text string) string {
	var builder strings.Builder
	_ = xml.EscapeText(&builder, []byte(text))
	return builder.String()
}

func loginResponseBody(sessionID string, serverURL string, username string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:partner.soap.sforce.com">` +
		`<soapenv:Body><loginResponse><result>` +
		`<passwordExpired>false</passwordExpired>` +
		`<serverUrl>` + escape(serverURL) + `</serverUrl>` +
		`<sessionId>` + escape(sessionID) + `</sessionId>` +
		`<userInfo><userName>` + escape(username) + `</userName></userInfo>` +
		`</result></loginResponse></soapenv:Body></soapenv:Envelope>`
}

func loginFaultBody(code string, message string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:sf="urn:fault.partner.soap.sforce.com">` +
		`<soapenv:Body><soapenv:Fault>` +
		`<faultcode>sf:` + escape(code) + `</faultcode>` +
		`<faultstring>` + escape(message) + `</faultstring>` +
		`</soapenv:Fault></soapenv:Body></soapenv:Envelope>`
}

func writeXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/xml; charset=UTF-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// serverURL is the partner endpoint a client derives its service host from.
func serverURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	return scheme + "://" + r.Host + path + "/00D000000000001"
}

func (srv *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	mediaType, err := contenttype.GetMediaType(r)
	if err != nil || !mediaType.Matches(xmlMediaType) {
		writeXML(w, http.StatusUnsupportedMediaType, loginFaultBody("INVALID_CONTENT_TYPE", "content-type must be text/xml"))
		return
	}

	var request loginRequest
	if err := xml.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&request); err != nil {
		writeXML(w, http.StatusInternalServerError, loginFaultBody("INVALID_XML", "malformed login envelope"))
		return
	}
	if request.Username == "" || !srv.authenticate(request.Username, request.Password) {
		srv.options.logger.Info().Str("username", request.Username).Msg("login rejected")
		writeXML(w, http.StatusInternalServerError, loginFaultBody("INVALID_LOGIN", invalidLoginFault))
		return
	}

	token := srv.issueSession(request.Username)
	srv.options.logger.Info().Str("username", request.Username).Msg("login accepted")
	writeXML(w, http.StatusOK, loginResponseBody(token, serverURL(r), request.Username))
}
