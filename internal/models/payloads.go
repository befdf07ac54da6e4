package models

// These structs define the JSON payloads exchanged with HTTP clients, socket
// subscribers, the Cloud Workflow hand-off and the mapping service.

// UploadResponse is returned when a document is accepted for processing.
type UploadResponse struct {
	DocumentID string `json:"documentId"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"`
}

// ExtractionResponse exposes OCR output to the downstream mapping service.
type ExtractionResponse struct {
	DocumentID string         `json:"documentId"`
	Status     Status         `json:"status"`
	PageCount  int            `json:"pageCount"`
	OCRText    string         `json:"ocrText"`
	Fragments  []TextFragment `json:"fragments"`
}

// ErrorResponse is the body of every non-2xx HTTP reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Raw socket message types.
const (
	SocketSubscribe       = "subscribe"
	SocketSubscribed      = "subscribed"
	SocketUnsubscribe     = "unsubscribe"
	SocketUnsubscribed    = "unsubscribed"
	SocketSubscribeUser   = "subscribe_user"
	SocketUnsubscribeUser = "unsubscribe_user"
	SocketPing            = "ping"
	SocketPong            = "pong"
	SocketError           = "error"
)

// SocketMessage is a control message on the raw socket surface.
type SocketMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Channel protocol events.
const (
	ChannelJoin      = "join"
	ChannelLeave     = "leave"
	ChannelHeartbeat = "heartbeat"
	ChannelReply     = "reply"
)

// ChannelFrame is one frame of the multiplexed channel protocol.
type ChannelFrame struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Ref     string `json:"ref,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ChannelReplyPayload is the payload of a reply frame.
type ChannelReplyPayload struct {
	Status   string `json:"status"`
	Response any    `json:"response,omitempty"`
}

// HandoffRequest is the workflow argument sent when OCR output is ready.
type HandoffRequest struct {
	DocumentID string `json:"documentId"`
	PageCount  int    `json:"pageCount"`
	MimeType   string `json:"mimeType"`
	UserID     string `json:"userId,omitempty"`
}

// ExtractedValue is one entry of the mapping service's extractedData object.
type ExtractedValue struct {
	Value      string  `json:"value"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// MappingRequest is the body sent to the intelligent mapping endpoint.
type MappingRequest struct {
	ExtractedData map[string]ExtractedValue `json:"extractedData"`
	DocumentType  string                    `json:"documentType,omitempty"`
	ContextData   map[string]string         `json:"contextData,omitempty"`
}

// MappingResponse is the body returned by the intelligent mapping endpoint.
type MappingResponse struct {
	MappedData     map[string]ExtractedValue `json:"mappedData"`
	UnmappedFields []string                  `json:"unmappedFields"`
}
