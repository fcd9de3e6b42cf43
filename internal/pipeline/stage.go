package pipeline

import "time"

// Stage is the state of a run.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageExtracting    Stage = "extracting"
	StageTokenCounting Stage = "token_counting"
	StageSummarizing   Stage = "summarizing"
	StageReducing      Stage = "reducing"
	StageGenerating    Stage = "generating"
	StageWriting       Stage = "writing"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Terminal reports whether no further transitions follow.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one progress notification. Done/Total count files while
// extracting and chunks while summarizing.
type Event struct {
	Stage   Stage     `json:"stage"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Done    int       `json:"done,omitempty"`
	Total   int       `json:"total,omitempty"`
	Time    time.Time `json:"time"`
}

// Recorder receives run measurements. metrics.Recorder implements it.
type Recorder interface {
	ModelCall(kind string, elapsed time.Duration, err error)
	PDF(status string)
	Tokens(n int)
	Run(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ModelCall(string, time.Duration, error) {}
func (nopRecorder) PDF(string) {}
func (nopRecorder) Tokens(int) {}
func (nopRecorder) Run(string, time.Duration) {}
