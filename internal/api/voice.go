package api

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamURL converts an http(s) base URL into the wss URL of path.
func StreamURL(base, host, path string) string {
	u, err := url.Parse(base)
	if base == "" || err != nil || u.Host == "" {
		return "wss://" + host + path
	}
	scheme := "wss"
	if u.Scheme == "http" {
		scheme = "ws"
	}
	return scheme + "://" + u.Host + strings.TrimRight(u.Path, "/") + path
}

// VoiceInbound answers a Twilio voice webhook with TwiML that connects the
// call's audio to the media stream socket at streamPath.
func (h *Handler) VoiceInbound(streamPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callSid := r.FormValue("CallSid")
		from := r.FormValue("From")

		h.logger.Info("inbound call", "call_sid", callSid, "from", from)

		resp := twimlResponse{Connect: twimlConnect{Stream: twimlStream{
			URL: StreamURL(h.opts.PublicURL, r.Host, streamPath),
			Parameters: []twimlParameter{
				{Name: "callSid", Value: callSid},
				{Name: "caller_id", Value: from},
			},
		}}}

		out, err := xml.Marshal(resp)
		if err != nil {
			Error(w, http.StatusInternalServerError, "failed to render twiml")
			return
		}

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(append([]byte(xml.Header), out...)); err != nil {
			h.logger.Error("failed to write TwiML", "error", err)
		}
	}
}
