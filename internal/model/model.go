// Package model defines the documents canvass persists: survey responses and
// their review state, surveys with quality-agent assignments, QC batches, and
// users.
package model

// ResponseStatus is the lifecycle status of a survey response.
type ResponseStatus string

const (
	StatusPendingApproval ResponseStatus = "Pending_Approval"
	StatusApproved        ResponseStatus = "Approved"
	StatusRejected        ResponseStatus = "Rejected"
	StatusTerminated      ResponseStatus = "Terminated"
	StatusAbandoned       ResponseStatus = "abandoned"
)

// Terminal reports whether the status permanently excludes the response from
// the review queue.
func (s ResponseStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusTerminated || s == StatusAbandoned
}

// InterviewMode distinguishes in-person from telephone interviews.
type InterviewMode string

const (
	ModeCAPI InterviewMode = "capi"
	ModeCATI InterviewMode = "cati"
)

// Respondent carries the demographic fields review filters match against.
type Respondent struct {
	Gender string `json:"gender,omitempty"`
	Age    int    `json:"age,omitempty"`
}

// Verification records a QC decision on a response.
type Verification struct {
	Decision   ResponseStatus    `json:"decision"`
	Criteria   map[string]string `json:"criteria,omitempty"`
	Feedback   string            `json:"feedback,omitempty"`
	ReviewerID string            `json:"reviewerId"`
	AtMs       int64             `json:"atMs"`
}

// SurveyResponse is the leased resource of the review queue.
type SurveyResponse struct {
	ResponseID  string         `json:"responseId"`
	SurveyID    string         `json:"surveyId"`
	AC          string         `json:"ac,omitempty"`
	Interviewer string         `json:"interviewer"`
	SessionID   string         `json:"sessionId"`
	Mode        InterviewMode  `json:"interviewMode"`
	Status      ResponseStatus `json:"status"`
	Respondent  Respondent     `json:"respondent"`
	Answers     map[string]any `json:"answers,omitempty"`
	AudioKey    string         `json:"audioKey,omitempty"`
	DurationSec int            `json:"durationSec"`
	CreatedAtMs int64          `json:"createdAtMs"`

	// LastSkippedAtMs is non-zero once a reviewer has skipped the response;
	// it only affects queue ordering, never eligibility.
	LastSkippedAtMs int64 `json:"lastSkippedAtMs,omitempty"`

	// QCBatchID and IsSampleResponse gate queue membership while a batch is
	// unresolved.
	QCBatchID        string `json:"qcBatchId,omitempty"`
	IsSampleResponse bool   `json:"isSampleResponse,omitempty"`

	Verification  *Verification  `json:"verification,omitempty"`
	ReviewHistory []Verification `json:"reviewHistory,omitempty"`
}

// ReviewAssignment is the lease. Stored under its own key, never inside the
// response document; the lease key is the concurrency-control point.
type ReviewAssignment struct {
	ResponseID   string `json:"responseId"`
	AgentID      string `json:"agentId"`
	AssignedAtMs int64  `json:"assignedAtMs"`
	ExpiresAtMs  int64  `json:"expiresAtMs"`
}

// Live reports whether the lease is unexpired at nowMs.
func (a *ReviewAssignment) Live(nowMs int64) bool {
	return a != nil && a.ExpiresAtMs > nowMs
}

// AgentAssignment grants a quality agent review access to a survey, optionally
// restricted to a set of ACs.
type AgentAssignment struct {
	AgentID string   `json:"agentId"`
	ACs     []string `json:"acs,omitempty"`
}

// Survey groups responses and carries quality-agent assignments.
type Survey struct {
	SurveyID              string            `json:"surveyId"`
	Name                  string            `json:"name"`
	ACs                   []string          `json:"acs,omitempty"`
	AssignedQualityAgents []AgentAssignment `json:"assignedQualityAgents,omitempty"`
	QCSampleRate          float64           `json:"qcSampleRate,omitempty"`
	CreatedAtMs           int64             `json:"createdAtMs"`
}

// AgentACs returns the AC restriction for an agent, or (nil, true) when the
// agent is assigned without restriction. ok is false when not assigned at all.
func (s *Survey) AgentACs(agentID string) (acs []string, ok bool) {
	for _, a := range s.AssignedQualityAgents {
		if a.AgentID == agentID {
			return a.ACs, true
		}
	}
	return nil, false
}

// BatchStatus is the QC batch lifecycle.
type BatchStatus string

const (
	BatchCollecting BatchStatus = "collecting"
	BatchResolved   BatchStatus = "resolved"
)

// QCBatch groups responses for sampled review. Responses of a collecting
// batch stay queue-eligible; once resolved, only the sampled share remains.
type QCBatch struct {
	BatchID      string      `json:"batchId"`
	SurveyID     string      `json:"surveyId"`
	Status       BatchStatus `json:"status"`
	CreatedAtMs  int64       `json:"createdAtMs"`
	ResolvedAtMs int64       `json:"resolvedAtMs,omitempty"`
}

// Role is a user's platform role.
type Role string

const (
	RoleCompanyAdmin Role = "company_admin"
	RoleQualityAgent Role = "quality_agent"
	RoleInterviewer  Role = "interviewer"
)

// User is a platform account. PasswordHash stays internal; controllers strip
// it before responding.
type User struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Role         Role   `json:"role"`
	CreatedAtMs  int64  `json:"createdAtMs"`
}
