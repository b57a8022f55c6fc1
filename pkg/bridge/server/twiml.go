package server

import (
	"encoding/xml"
	"net/http"
)

type twimlStream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

// handleVoice answers the telephony platform's call webhook with a handoff
// document pointing the call's media stream at our WebSocket endpoint.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	doc := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{URL: "wss://" + host + "/media"},
		},
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Warn("voice response encoding failed", "error", err)
	}
}
