package pipeline

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgallion1/lmrate/internal/decoder"
	"github.com/dgallion1/lmrate/internal/lattice"
	"github.com/dgallion1/lmrate/internal/parser"
	"github.com/dgallion1/lmrate/internal/rating"
)

// processingStepName is the PAGE processing step lmrate performs.
const processingStepName = "recognition/text-recognition"

// JobStatus represents the state of a rating job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusBuilding   JobStatus = "building"
	StatusDecoding   JobStatus = "decoding"
	StatusStoring    JobStatus = "storing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
	StatusDupSkipped JobStatus = "duplicate_skipped"
)

// Settings are the rating parameters of one job.
type Settings struct {
	Lattice             lattice.Config `json:"lattice"`
	Decoder             decoder.Config `json:"decoder"`
	AlternativeDecoding bool           `json:"alternative_decoding"`
}

// Fingerprint identifies the parameters for duplicate detection.
func (s Settings) Fingerprint() string {
	return ContentHashHex([]byte(fmt.Sprintf("%+v", s)))[:12]
}

// ProcessingStep describes the settings as PAGE-XML metadata.
func (s Settings) ProcessingStep() parser.ProcessingStep {
	labels := []parser.Label{
		{Type: "textequiv_level", Value: s.Lattice.Level.String()},
		{Type: "alternative_decoding", Value: strconv.FormatBool(s.AlternativeDecoding)},
		{Type: "choice_limit", Value: strconv.Itoa(s.Lattice.ChoiceLimit)},
		{Type: "choice_threshold", Value: strconv.FormatFloat(s.Lattice.ChoiceThreshold, 'g', -1, 64)},
		{Type: "add_space_glyphs", Value: strconv.FormatBool(s.Lattice.AddSpaceGlyphs)},
	}
	if s.AlternativeDecoding {
		labels = append(labels,
			parser.Label{Type: "beam_width", Value: strconv.Itoa(s.Decoder.BeamWidth)},
			parser.Label{Type: "clustering", Value: strconv.FormatBool(s.Decoder.Clustering)},
			parser.Label{Type: "cluster_distance", Value: strconv.FormatFloat(s.Decoder.ClusterDistance, 'g', -1, 64)},
		)
	}
	return parser.ProcessingStep{Name: processingStepName, Value: "lmrate", Labels: labels}
}

// Job tracks the state of a single document rating.
type Job struct {
	mu sync.Mutex

	ID     string `json:"job_id"`
	DocID  string `json:"doc_id"`
	UserID string `json:"user_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	Force    bool      `json:"force"`
	Settings Settings  `json:"settings"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	DuplicateOf string    `json:"duplicate_of,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	result   *rating.Summary
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalSteps   int      `json:"total_steps"`
	StepsDecoded int      `json:"steps_decoded"`
	Elements     int      `json:"elements_rated"`
	Stored       bool     `json:"stored"`
	Errors       []string `json:"errors"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetTotalSteps records the lattice length.
func (j *Job) SetTotalSteps(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalSteps = n
	j.UpdatedAt = time.Now()
}

// SetStepsDecoded records decoding progress.
func (j *Job) SetStepsDecoded(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.StepsDecoded = n
	j.UpdatedAt = time.Now()
}

// SetResult keeps the rating summary for retrieval while the job lives.
func (j *Job) SetResult(s rating.Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = &s
	j.Progress.Elements = len(s.Elements)
	j.UpdatedAt = time.Now()
}

// Result returns the rating summary, or nil before decoding finished.
func (j *Job) Result() *rating.Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// MarkStored records that the rating reached the store.
func (j *Job) MarkStored() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Stored = true
	j.UpdatedAt = time.Now()
}

// SetDuplicate records the stored document this job duplicates.
func (j *Job) SetDuplicate(docID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.DuplicateOf = docID
	j.UpdatedAt = time.Now()
}

// SetContentHash records the hash of the uploaded bytes.
func (j *Job) SetContentHash(h string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = h
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// releaseFileData drops the upload once it is no longer needed.
func (j *Job) releaseFileData() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	DocID       string    `json:"doc_id"`
	UserID      string    `json:"user_id"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	ContentHash string    `json:"content_hash,omitempty"`
	DuplicateOf string    `json:"duplicate_of,omitempty"`
	Progress    Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	progress := j.Progress
	progress.Errors = errs
	return JobSnapshot{
		ID:          j.ID,
		DocID:       j.DocID,
		UserID:      j.UserID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Title:       j.Title,
		ContentHash: j.ContentHash,
		DuplicateOf: j.DuplicateOf,
		Progress:    progress,
	}
}

// Done reports whether the job reached a final status.
func (s JobSnapshot) Done() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusPartial, StatusDupSkipped:
		return true
	}
	return false
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
