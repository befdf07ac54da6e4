package models

import "time"

// Status is the processing status of a document.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusUploading     Status = "uploading"
	StatusUploaded      Status = "uploaded"
	StatusOCRProcessing Status = "ocr_processing"
	StatusOCRCompleted  Status = "ocr_completed"
	StatusClassifying   Status = "classifying"
	StatusClassified    Status = "classified"
	StatusExtracting    Status = "extracting"
	StatusExtracted     Status = "extracted"
	StatusMapping       Status = "mapping"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// statusOrder is the forward order of the pipeline. failed has no rank.
var statusOrder = map[Status]int{
	StatusQueued:        0,
	StatusUploading:     1,
	StatusUploaded:      2,
	StatusOCRProcessing: 3,
	StatusOCRCompleted:  4,
	StatusClassifying:   5,
	StatusClassified:    6,
	StatusExtracting:    7,
	StatusExtracted:     8,
	StatusMapping:       9,
	StatusCompleted:     10,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusOrder[s]
	return ok
}

// Terminal reports whether no forward transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank returns the position of s in the pipeline, or -1 for failed and unknown values.
func (s Status) Rank() int {
	if r, ok := statusOrder[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s has reached other in pipeline order.
func (s Status) AtLeast(other Status) bool {
	return s.Rank() >= 0 && s.Rank() >= other.Rank()
}

// ErrorInfo is the persisted description of a failure.
type ErrorInfo struct {
	Kind    string `json:"kind" firestore:"kind"`
	Message string `json:"message" firestore:"message"`
	Detail  string `json:"detail,omitempty" firestore:"detail,omitempty"`
}

// Error kinds recorded on failed documents.
const (
	ErrorKindExtraction = "extraction"
	ErrorKindValidation = "validation"
	ErrorKindStorage    = "storage"
	ErrorKindMapping    = "mapping"
	ErrorKindInternal   = "internal"
)

// ProcessingState is the authoritative status record of a document.
type ProcessingState struct {
	Status       Status     `json:"status" firestore:"status"`
	CurrentStage string     `json:"currentStage" firestore:"currentStage"`
	Progress     int        `json:"progress" firestore:"progress"`
	LastUpdated  time.Time  `json:"lastUpdated" firestore:"lastUpdated"`
	Error        *ErrorInfo `json:"error,omitempty" firestore:"error,omitempty"`
}

// BoundingBox is a rectangle in pixel coordinates, origin top-left.
type BoundingBox struct {
	X      float64 `json:"x" firestore:"x"`
	Y      float64 `json:"y" firestore:"y"`
	Width  float64 `json:"width" firestore:"width"`
	Height float64 `json:"height" firestore:"height"`
}

// Translate returns the box moved by dx, dy.
func (b BoundingBox) Translate(dx, dy float64) BoundingBox {
	return BoundingBox{X: b.X + dx, Y: b.Y + dy, Width: b.Width, Height: b.Height}
}

// Clip returns the box clipped to [0,w) x [0,h).
func (b BoundingBox) Clip(w, h float64) BoundingBox {
	x0, y0 := clamp(b.X, 0, w), clamp(b.Y, 0, h)
	x1, y1 := clamp(b.X+b.Width, 0, w), clamp(b.Y+b.Height, 0, h)
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TextFragment is a piece of recognized text with its position.
type TextFragment struct {
	Text       string      `json:"text" firestore:"text"`
	Page       int         `json:"page" firestore:"page"`
	Box        BoundingBox `json:"box" firestore:"box"`
	Confidence float64     `json:"confidence,omitempty" firestore:"confidence,omitempty"`
}

// HistoryEntry is one append-only record of the processing history.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
	Stage     string    `json:"stage" firestore:"stage"`
	Status    Status    `json:"status" firestore:"status"`
	Message   string    `json:"message" firestore:"message"`
	Progress  int       `json:"progress" firestore:"progress"`
}

// Field is a value extracted from the document text.
type Field struct {
	Name       string  `json:"name" firestore:"name"`
	Value      string  `json:"value" firestore:"value"`
	Reasoning  string  `json:"reasoning,omitempty" firestore:"reasoning,omitempty"`
	Confidence float64 `json:"confidence" firestore:"confidence"`
}

// MappedField is a Field placed onto a target form field by the mapping service.
type MappedField struct {
	Field      string  `json:"field" firestore:"field"`
	Value      string  `json:"value" firestore:"value"`
	Reasoning  string  `json:"reasoning,omitempty" firestore:"reasoning,omitempty"`
	Confidence float64 `json:"confidence" firestore:"confidence"`
}

// Document is the record for one uploaded file.
type Document struct {
	ID           string          `json:"documentId" firestore:"-"`
	Filename     string          `json:"filename" firestore:"filename"`
	MimeType     string          `json:"mimeType" firestore:"mimeType"`
	Size         int64           `json:"size" firestore:"size"`
	UserID       string          `json:"userId,omitempty" firestore:"userId,omitempty"`
	StoragePath  string          `json:"storagePath" firestore:"storagePath"`
	FileHash     string          `json:"fileHash,omitempty" firestore:"fileHash,omitempty"`
	State        ProcessingState `json:"processingState" firestore:"processingState"`
	OCRText      string          `json:"ocrText,omitempty" firestore:"ocrText,omitempty"`
	Fragments    []TextFragment  `json:"fragments,omitempty" firestore:"fragments,omitempty"`
	PageCount    int             `json:"pageCount,omitempty" firestore:"pageCount,omitempty"`
	DocumentType string          `json:"documentType,omitempty" firestore:"documentType,omitempty"`
	Fields       []Field         `json:"fields,omitempty" firestore:"fields,omitempty"`
	MappedFields []MappedField   `json:"mappedFields,omitempty" firestore:"mappedFields,omitempty"`
	Unmapped     []string        `json:"unmappedFields,omitempty" firestore:"unmappedFields,omitempty"`
	RetryCount   int             `json:"retryCount" firestore:"retryCount"`
	CreatedAt    time.Time       `json:"createdAt" firestore:"createdAt"`
}

// StageOutput carries results a stage commits together with its transition.
type StageOutput struct {
	OCRText      *string
	Fragments    []TextFragment
	PageCount    *int
	DocumentType *string
	Fields       []Field
	MappedFields []MappedField
	Unmapped     []string
}

// DocumentPatch is a partial update of a Document. Nil fields are left untouched.
type DocumentPatch struct {
	State        *ProcessingState
	RetryCount   *int
	OCRText      *string
	Fragments    []TextFragment
	PageCount    *int
	DocumentType *string
	Fields       []Field
	MappedFields []MappedField
	Unmapped     []string
}

// Apply writes the non-nil fields of p onto d.
func (p DocumentPatch) Apply(d *Document) {
	if p.State != nil {
		d.State = *p.State
	}
	if p.RetryCount != nil {
		d.RetryCount = *p.RetryCount
	}
	if p.OCRText != nil {
		d.OCRText = *p.OCRText
	}
	if p.Fragments != nil {
		d.Fragments = p.Fragments
	}
	if p.PageCount != nil {
		d.PageCount = *p.PageCount
	}
	if p.DocumentType != nil {
		d.DocumentType = *p.DocumentType
	}
	if p.Fields != nil {
		d.Fields = p.Fields
	}
	if p.MappedFields != nil {
		d.MappedFields = p.MappedFields
	}
	if p.Unmapped != nil {
		d.Unmapped = p.Unmapped
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	if d.State.Error != nil {
		e := *d.State.Error
		c.State.Error = &e
	}
	c.Fragments = append([]TextFragment(nil), d.Fragments...)
	c.Fields = append([]Field(nil), d.Fields...)
	c.MappedFields = append([]MappedField(nil), d.MappedFields...)
	c.Unmapped = append([]string(nil), d.Unmapped...)
	return &c
}

// Checkpoints are the progress values the pipeline reports at fixed points.
type Checkpoints struct {
	Queued    int
	Uploaded  int
	OCRStart  int
	OCREnd    int
	Completed int
}

// DefaultCheckpoints returns queued 10, uploaded 15, OCR band 20..90, completed 100.
func DefaultCheckpoints() Checkpoints {
	return Checkpoints{Queued: 10, Uploaded: 15, OCRStart: 20, OCREnd: 90, Completed: 100}
}

// OCRProgress maps done of total finished segments onto the OCR band.
func (c Checkpoints) OCRProgress(done, total int) int {
	if total <= 0 {
		return c.OCRStart
	}
	if done > total {
		done = total
	}
	return c.OCRStart + done*(c.OCREnd-c.OCRStart)/total
}
