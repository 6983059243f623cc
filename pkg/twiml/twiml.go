// Package twiml answers Twilio voice webhooks with TwiML that connects the
// call to the media stream endpoint.
package twiml

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Response is the TwiML <Response> document
type Response struct {
	XMLName xml.Name    `xml:"Response"`
	Say     *SayElement `xml:"Say,omitempty"`
	Connect *Connect    `xml:"Connect"`
}

// SayElement is spoken to the caller before the stream connects
type SayElement struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

// Connect wraps a bidirectional <Stream>
type Connect struct {
	Stream Stream `xml:"Stream"`
}

// Stream points Twilio at the WebSocket endpoint
type Stream struct {
	URL        string      `xml:"url,attr"`
	Parameters []Parameter `xml:"Parameter,omitempty"`
}

// Parameter is delivered back in the start event as a custom parameter
type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStream builds the TwiML for a bidirectional media stream
func ConnectStream(streamURL, prompt string, params map[string]string) ([]byte, error) {
	resp := Response{
		Connect: &Connect{Stream: Stream{URL: streamURL}},
	}
	if prompt != "" {
		resp.Say = &SayElement{Text: prompt}
	}
	for _, name := range []string{"from", "to", "callSid"} {
		if v := params[name]; v != "" {
			resp.Connect.Stream.Parameters = append(resp.Connect.Stream.Parameters, Parameter{Name: name, Value: v})
		}
	}

	out, err := xml.MarshalIndent(resp, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Handler serves the voice webhook
type Handler struct {
	// StreamURL is the public wss:// URL of the media stream endpoint. When
	// empty it is derived from the request host and StreamPath.
	StreamURL  string
	StreamPath string
	Prompt     string
	Logger     *slog.Logger
}

// ServeHTTP handles POST /twiml
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	streamURL := h.StreamURL
	if streamURL == "" {
		streamURL = streamURLFromRequest(r, h.StreamPath)
	}

	params := map[string]string{
		"from":    r.PostFormValue("From"),
		"to":      r.PostFormValue("To"),
		"callSid": r.PostFormValue("CallSid"),
	}

	body, err := ConnectStream(streamURL, h.Prompt, params)
	if err != nil {
		logger.Error("failed to build twiml", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.Info("incoming call", "callSid", params["callSid"], "from", params["from"], "streamURL", streamURL)

	w.Header().Set("Content-Type", "text/xml")
	w.Write(body)
}

// streamURLFromRequest derives the public stream URL when the service runs
// behind a TLS-terminating proxy
func streamURLFromRequest(r *http.Request, path string) string {
	scheme := "wss"
	if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "ws"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}
