package event

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mosaicnetworks/weave/src/crypto"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
)

// Event type tags.
const (
	TypeProfile         = "profile:v1"
	TypePost            = "post:v1"
	TypeProof           = "proof:v1"
	TypeMessage         = "message:v1"
	TypeGroup           = "group:v1"
	TypeToken           = "token:v1"
	TypeWeb             = "web:v1"
	TypeName            = "name:v1"
	TypeBlob            = "blob:v1"
	TypeListing         = "listing:v1"
	TypeContract        = "contract:v1"
	TypeContractCall    = "contract_call:v1"
	TypeProposal        = "proposal:v1"
	TypeVote            = "vote:v1"
	TypeCandidacy       = "candidacy:v1"
	TypeCandidacyVote   = "candidacy_vote:v1"
	TypeReport          = "report:v1"
	TypeFile            = "file:v1"
	TypeRecall          = "recall:v1"
	TypeRecallVote      = "recall_vote:v1"
	TypeOversightCase   = "oversight_case:v1"
	TypeJuryVote        = "jury_vote:v1"
	TypeComment         = "comment:v1"
	TypeLike            = "like:v1"
	TypeStory           = "story:v1"
	TypeFollow          = "follow:v1"
	TypeCourse          = "course:v1"
	TypeExam            = "exam:v1"
	TypeExamSubmission  = "exam_submission:v1"
	TypeCertification   = "certification:v1"
	TypeApplication     = "application:v1"
	TypeApplicationVote = "application_vote:v1"
)

// Limits on free-form payload fields.
const (
	MaxTextLength   = 64 * 1024
	MaxInlineBlob   = 256 * 1024
	MaxAttachments  = 16
	MaxListLength   = 256
	MaxNameLength   = 128
	MaxTitleLength  = 512
	MaxRecipientLen = 130
)

func init() {
	Register(TypeProfile, false, func() Payload { return &ProfilePayload{} })
	Register(TypePost, false, func() Payload { return &PostPayload{} })
	Register(TypeProof, false, func() Payload { return &ProofPayload{} })
	Register(TypeMessage, false, func() Payload { return &MessagePayload{} })
	Register(TypeGroup, false, func() Payload { return &GroupPayload{} })
	Register(TypeToken, true, func() Payload { return &TokenPayload{} })
	Register(TypeWeb, false, func() Payload { return &WebPayload{} })
	Register(TypeName, false, func() Payload { return &NamePayload{} })
	Register(TypeBlob, false, func() Payload { return &BlobPayload{} })
	Register(TypeListing, false, func() Payload { return &ListingPayload{} })
	Register(TypeContract, false, func() Payload { return &ContractPayload{} })
	Register(TypeContractCall, false, func() Payload { return &ContractCallPayload{} })
	Register(TypeProposal, false, func() Payload { return &ProposalPayload{} })
	Register(TypeVote, true, func() Payload { return &VotePayload{} })
	Register(TypeCandidacy, false, func() Payload { return &CandidacyPayload{} })
	Register(TypeCandidacyVote, true, func() Payload { return &CandidacyVotePayload{} })
	Register(TypeReport, false, func() Payload { return &ReportPayload{} })
	Register(TypeFile, false, func() Payload { return &FilePayload{} })
	Register(TypeRecall, false, func() Payload { return &RecallPayload{} })
	Register(TypeRecallVote, true, func() Payload { return &RecallVotePayload{} })
	Register(TypeOversightCase, false, func() Payload { return &OversightCasePayload{} })
	Register(TypeJuryVote, true, func() Payload { return &JuryVotePayload{} })
	Register(TypeComment, false, func() Payload { return &CommentPayload{} })
	Register(TypeLike, false, func() Payload { return &LikePayload{} })
	Register(TypeStory, false, func() Payload { return &StoryPayload{} })
	Register(TypeFollow, false, func() Payload { return &FollowPayload{} })
	Register(TypeCourse, false, func() Payload { return &CoursePayload{} })
	Register(TypeExam, false, func() Payload { return &ExamPayload{} })
	Register(TypeExamSubmission, false, func() Payload { return &ExamSubmissionPayload{} })
	Register(TypeCertification, false, func() Payload { return &CertificationPayload{} })
	Register(TypeApplication, false, func() Payload { return &ApplicationPayload{} })
	Register(TypeApplicationVote, true, func() Payload { return &ApplicationVotePayload{} })
}

/*******************************************************************************
Field checks
*******************************************************************************/

func required(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return maxLen(field, value, max)
}

func maxLen(field, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%s exceeds %d bytes", field, max)
	}
	return nil
}

func eventID(field, value string) error {
	if !crypto.IsHexID(value) {
		return fmt.Errorf("%s is not an event id", field)
	}
	return nil
}

func optionalEventID(field, value string) error {
	if value == "" {
		return nil
	}
	return eventID(field, value)
}

func pubKey(field, value string) error {
	if _, err := keys.ParsePublicKeyHex(value); err != nil {
		return fmt.Errorf("%s: %v", field, err)
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s", field, strings.Join(allowed, "|"))
}

func idList(field string, values []string, max int) error {
	if len(values) > max {
		return fmt.Errorf("%s has more than %d entries", field, max)
	}
	for _, v := range values {
		if err := eventID(field, v); err != nil {
			return err
		}
	}
	return nil
}

func keyList(field string, values []string, max int) error {
	if len(values) > max {
		return fmt.Errorf("%s has more than %d entries", field, max)
	}
	for _, v := range values {
		if err := pubKey(field, v); err != nil {
			return err
		}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

/*******************************************************************************
Identity
*******************************************************************************/

// ProfilePayload ...
type ProfilePayload struct {
	Name             string `json:"name"`
	Bio              string `json:"bio"`
	FounderID        uint32 `json:"founder_id,omitempty"`
	EncryptionPubKey string `json:"encryption_pubkey,omitempty"`
	Photo            string `json:"photo,omitempty"`
}

// Validate ...
func (p *ProfilePayload) Validate() error {
	return firstErr(
		required("name", p.Name, MaxNameLength),
		maxLen("bio", p.Bio, MaxTextLength),
		maxLen("encryption_pubkey", p.EncryptionPubKey, 64),
		optionalEventID("photo", p.Photo),
	)
}

// References ...
func (p *ProfilePayload) References() []string {
	return []string{p.Photo}
}

// ProofPayload is an attestation that the target passed the humanity
// verification ceremony.
type ProofPayload struct {
	TargetPubKey string `json:"target_pubkey"`
}

// Validate ...
func (p *ProofPayload) Validate() error {
	return pubKey("target_pubkey", p.TargetPubKey)
}

// References ...
func (p *ProofPayload) References() []string {
	return []string{p.TargetPubKey}
}

// ApplicationPayload is a request to be verified by existing members.
type ApplicationPayload struct {
	Name     string `json:"name"`
	Bio      string `json:"bio"`
	PhotoCID string `json:"photo_cid,omitempty"`
}

// Validate ...
func (p *ApplicationPayload) Validate() error {
	return firstErr(
		required("name", p.Name, MaxNameLength),
		maxLen("bio", p.Bio, MaxTextLength),
		optionalEventID("photo_cid", p.PhotoCID),
	)
}

// References ...
func (p *ApplicationPayload) References() []string {
	return []string{p.PhotoCID}
}

// ApplicationVotePayload ...
type ApplicationVotePayload struct {
	ApplicationID string `json:"application_id"`
	Approve       bool   `json:"approve"`
}

// Validate ...
func (p *ApplicationVotePayload) Validate() error {
	return eventID("application_id", p.ApplicationID)
}

// References ...
func (p *ApplicationVotePayload) References() []string {
	return []string{p.ApplicationID}
}

// FollowPayload ...
type FollowPayload struct {
	Target string `json:"target"`
	Follow bool   `json:"follow"`
}

// Validate ...
func (p *FollowPayload) Validate() error {
	return pubKey("target", p.Target)
}

// References ...
func (p *FollowPayload) References() []string {
	return []string{p.Target}
}

// NamePayload claims a human readable name for a key or a content id.
type NamePayload struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// Validate ...
func (p *NamePayload) Validate() error {
	return firstErr(
		required("name", p.Name, MaxNameLength),
		required("target", p.Target, MaxRecipientLen),
	)
}

// References ...
func (p *NamePayload) References() []string {
	return []string{NameRef(p.Name), p.Target}
}

// NameRef is the index key under which claims of a name are found.
func NameRef(name string) string {
	return "name:" + strings.ToLower(name)
}

/*******************************************************************************
Social
*******************************************************************************/

// PostPayload ...
type PostPayload struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
	Geohash     string   `json:"geohash,omitempty"`
}

// Validate ...
func (p *PostPayload) Validate() error {
	return firstErr(
		required("content", p.Content, MaxTextLength),
		idList("attachments", p.Attachments, MaxAttachments),
		maxLen("geohash", p.Geohash, 12),
	)
}

// References ...
func (p *PostPayload) References() []string {
	return p.Attachments
}

// CommentPayload ...
type CommentPayload struct {
	ParentID    string   `json:"parent_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// Validate ...
func (p *CommentPayload) Validate() error {
	return firstErr(
		eventID("parent_id", p.ParentID),
		required("content", p.Content, MaxTextLength),
		idList("attachments", p.Attachments, MaxAttachments),
	)
}

// References ...
func (p *CommentPayload) References() []string {
	return append([]string{p.ParentID}, p.Attachments...)
}

// LikePayload ...
type LikePayload struct {
	TargetID string `json:"target_id"`
	Remove   bool   `json:"remove"`
}

// Validate ...
func (p *LikePayload) Validate() error {
	return eventID("target_id", p.TargetID)
}

// References ...
func (p *LikePayload) References() []string {
	return []string{p.TargetID}
}

// StoryPayload ...
type StoryPayload struct {
	MediaCID string `json:"media_cid"`
	Caption  string `json:"caption,omitempty"`
	Geohash  string `json:"geohash,omitempty"`
}

// Validate ...
func (p *StoryPayload) Validate() error {
	return firstErr(
		eventID("media_cid", p.MediaCID),
		maxLen("caption", p.Caption, MaxTitleLength),
		maxLen("geohash", p.Geohash, 12),
	)
}

// References ...
func (p *StoryPayload) References() []string {
	return []string{p.MediaCID}
}

// ReportPayload flags content for moderation.
type ReportPayload struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
	Details  string `json:"details,omitempty"`
}

// Validate ...
func (p *ReportPayload) Validate() error {
	return firstErr(
		eventID("target_id", p.TargetID),
		required("reason", p.Reason, MaxNameLength),
		maxLen("details", p.Details, MaxTextLength),
	)
}

// References ...
func (p *ReportPayload) References() []string {
	return []string{p.TargetID}
}

/*******************************************************************************
Messaging
*******************************************************************************/

// MessagePayload is an end-to-end encrypted message. The core never sees the
// plaintext.
type MessagePayload struct {
	Recipient       string `json:"recipient"`
	Ciphertext      string `json:"ciphertext"`
	Nonce           string `json:"nonce"`
	EphemeralPubKey string `json:"ephemeral_pubkey"`
	GroupID         string `json:"group_id,omitempty"`
}

// Validate ...
func (p *MessagePayload) Validate() error {
	return firstErr(
		required("recipient", p.Recipient, MaxRecipientLen),
		required("ciphertext", p.Ciphertext, MaxTextLength),
		required("nonce", p.Nonce, 64),
		required("ephemeral_pubkey", p.EphemeralPubKey, 130),
		optionalEventID("group_id", p.GroupID),
	)
}

// References ...
func (p *MessagePayload) References() []string {
	return []string{p.Recipient, p.GroupID}
}

// GroupPayload ...
type GroupPayload struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Owner   string   `json:"owner"`
}

// Validate ...
func (p *GroupPayload) Validate() error {
	return firstErr(
		required("name", p.Name, MaxNameLength),
		keyList("members", p.Members, MaxListLength),
		pubKey("owner", p.Owner),
	)
}

// References ...
func (p *GroupPayload) References() []string {
	return append([]string{p.Owner}, p.Members...)
}

/*******************************************************************************
Content
*******************************************************************************/

// WebPayload is a page of the peer-to-peer web. The latest page for a url, by
// total order, is the current one.
type WebPayload struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Validate ...
func (p *WebPayload) Validate() error {
	if err := required("url", p.URL, MaxTitleLength); err != nil {
		return err
	}
	if !strings.HasPrefix(p.URL, "sp://") {
		return fmt.Errorf("url must use the sp:// scheme")
	}
	if len(p.Tags) > MaxListLength {
		return fmt.Errorf("tags has more than %d entries", MaxListLength)
	}
	return firstErr(
		required("title", p.Title, MaxTitleLength),
		maxLen("content", p.Content, MaxTextLength),
		maxLen("description", p.Description, MaxTextLength),
	)
}

// References ...
func (p *WebPayload) References() []string {
	return []string{WebRef(p.URL)}
}

// WebRef is the index key under which versions of a page are found.
func WebRef(url string) string {
	return "web:" + url
}

// BlobPayload carries small content inline, base64 encoded. Larger content
// goes through manifests.
type BlobPayload struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Validate ...
func (p *BlobPayload) Validate() error {
	if err := firstErr(
		required("mime_type", p.MimeType, MaxNameLength),
		required("data", p.Data, MaxInlineBlob),
	); err != nil {
		return err
	}
	if _, err := p.Bytes(); err != nil {
		return fmt.Errorf("data: %v", err)
	}
	return nil
}

// Bytes decodes the inline content.
func (p *BlobPayload) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// References ...
func (p *BlobPayload) References() []string {
	return nil
}

// FilePayload describes a file whose bytes live in the blob store.
type FilePayload struct {
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	MimeType string `json:"mime_type"`
	BlobCID  string `json:"blob_cid"`
}

// Validate ...
func (p *FilePayload) Validate() error {
	return firstErr(
		required("name", p.Name, MaxTitleLength),
		required("mime_type", p.MimeType, MaxNameLength),
		eventID("blob_cid", p.BlobCID),
	)
}

// References ...
func (p *FilePayload) References() []string {
	return []string{p.BlobCID}
}

/*******************************************************************************
Market and contracts
*******************************************************************************/

// ListingPayload ...
type ListingPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       uint64 `json:"price"`
	ImageCID    string `json:"image_cid,omitempty"`
	Category    string `json:"category,omitempty"`
	Status      string `json:"status"`
	RefCID      string `json:"ref_cid,omitempty"`
}

// Validate ...
func (p *ListingPayload) Validate() error {
	return firstErr(
		required("title", p.Title, MaxTitleLength),
		maxLen("description", p.Description, MaxTextLength),
		optionalEventID("image_cid", p.ImageCID),
		maxLen("category", p.Category, MaxNameLength),
		oneOf("status", p.Status, "active", "sold", "cancelled"),
		optionalEventID("ref_cid", p.RefCID),
	)
}

// References ...
func (p *ListingPayload) References() []string {
	return []string{p.ImageCID, p.RefCID}
}

// ContractPayload ...
type ContractPayload struct {
	Code       string `json:"code"`
	InitParams string `json:"init_params"`
	Status     string `json:"status"`
}

// Validate ...
func (p *ContractPayload) Validate() error {
	return firstErr(
		required("code", p.Code, MaxTextLength),
		maxLen("init_params", p.InitParams, MaxTextLength),
		oneOf("status", p.Status, "pending", "active", "completed", "rejected", "cancelled"),
	)
}

// References ...
func (p *ContractPayload) References() []string {
	return nil
}

// ContractCallPayload ...
type ContractCallPayload struct {
	ContractID string `json:"contract_id"`
	Method     string `json:"method"`
	Params     string `json:"params"`
}

// Validate ...
func (p *ContractCallPayload) Validate() error {
	return firstErr(
		eventID("contract_id", p.ContractID),
		required("method", p.Method, MaxNameLength),
		maxLen("params", p.Params, MaxTextLength),
	)
}

// References ...
func (p *ContractCallPayload) References() []string {
	return []string{p.ContractID}
}

/*******************************************************************************
Governance
*******************************************************************************/

// ProposalPayload ...
type ProposalPayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Kind        string   `json:"kind"`
	TaxRate     *uint8   `json:"tax_rate,omitempty"`
	Ministries  []string `json:"ministries,omitempty"`
}

// Validate ...
func (p *ProposalPayload) Validate() error {
	if err := firstErr(
		required("title", p.Title, MaxTitleLength),
		maxLen("description", p.Description, MaxTextLength),
		oneOf("kind", p.Kind, "standard", "constitutional", "emergency", "set_tax", "define_ministries"),
	); err != nil {
		return err
	}

	switch p.Kind {
	case "set_tax":
		if p.TaxRate == nil || *p.TaxRate > 100 {
			return fmt.Errorf("set_tax requires tax_rate in 0..100")
		}
	case "define_ministries":
		if len(p.Ministries) == 0 || len(p.Ministries) > MaxListLength {
			return fmt.Errorf("define_ministries requires 1..%d ministries", MaxListLength)
		}
	default:
		if p.TaxRate != nil || len(p.Ministries) > 0 {
			return fmt.Errorf("%s proposal carries no parameters", p.Kind)
		}
	}

	return nil
}

// References ...
func (p *ProposalPayload) References() []string {
	return nil
}

// VotePayload ...
type VotePayload struct {
	ProposalID string `json:"proposal_id"`
	Vote       string `json:"vote"`
}

// Validate ...
func (p *VotePayload) Validate() error {
	return firstErr(
		eventID("proposal_id", p.ProposalID),
		oneOf("vote", p.Vote, "yes", "no", "abstain", "petition_signature"),
	)
}

// References ...
func (p *VotePayload) References() []string {
	return []string{p.ProposalID}
}

// CandidacyPayload ...
type CandidacyPayload struct {
	Ministry string `json:"ministry"`
	Platform string `json:"platform"`
}

// Validate ...
func (p *CandidacyPayload) Validate() error {
	return firstErr(
		required("ministry", p.Ministry, MaxNameLength),
		maxLen("platform", p.Platform, MaxTextLength),
	)
}

// References ...
func (p *CandidacyPayload) References() []string {
	return nil
}

// CandidacyVotePayload ...
type CandidacyVotePayload struct {
	CandidacyID string `json:"candidacy_id"`
}

// Validate ...
func (p *CandidacyVotePayload) Validate() error {
	return eventID("candidacy_id", p.CandidacyID)
}

// References ...
func (p *CandidacyVotePayload) References() []string {
	return []string{p.CandidacyID}
}

// RecallPayload ...
type RecallPayload struct {
	TargetOfficial string `json:"target_official"`
	Ministry       string `json:"ministry"`
	Reason         string `json:"reason"`
}

// Validate ...
func (p *RecallPayload) Validate() error {
	return firstErr(
		pubKey("target_official", p.TargetOfficial),
		required("ministry", p.Ministry, MaxNameLength),
		required("reason", p.Reason, MaxTextLength),
	)
}

// References ...
func (p *RecallPayload) References() []string {
	return []string{p.TargetOfficial}
}

// RecallVotePayload ...
type RecallVotePayload struct {
	RecallID string `json:"recall_id"`
	Vote     bool   `json:"vote"`
}

// Validate ...
func (p *RecallVotePayload) Validate() error {
	return eventID("recall_id", p.RecallID)
}

// References ...
func (p *RecallVotePayload) References() []string {
	return []string{p.RecallID}
}

// OversightCasePayload ...
type OversightCasePayload struct {
	CaseID      string   `json:"case_id"`
	ReportID    string   `json:"report_id"`
	JuryMembers []string `json:"jury_members"`
	Status      string   `json:"status"`
}

// Validate ...
func (p *OversightCasePayload) Validate() error {
	return firstErr(
		required("case_id", p.CaseID, MaxNameLength),
		eventID("report_id", p.ReportID),
		keyList("jury_members", p.JuryMembers, MaxListLength),
		oneOf("status", p.Status, "open", "closed"),
	)
}

// References ...
func (p *OversightCasePayload) References() []string {
	return append([]string{p.ReportID}, p.JuryMembers...)
}

// JuryVotePayload ...
type JuryVotePayload struct {
	CaseID string `json:"case_id"`
	Vote   string `json:"vote"`
}

// Validate ...
func (p *JuryVotePayload) Validate() error {
	return firstErr(
		required("case_id", p.CaseID, MaxNameLength),
		oneOf("vote", p.Vote, "uphold", "dismiss"),
	)
}

// References ...
func (p *JuryVotePayload) References() []string {
	return []string{p.CaseID}
}

/*******************************************************************************
Education
*******************************************************************************/

// CoursePayload ...
type CoursePayload struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Content       string   `json:"content"`
	Category      string   `json:"category"`
	ExamID        string   `json:"exam_id,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// Validate ...
func (p *CoursePayload) Validate() error {
	return firstErr(
		required("title", p.Title, MaxTitleLength),
		maxLen("description", p.Description, MaxTextLength),
		maxLen("content", p.Content, MaxTextLength),
		required("category", p.Category, MaxNameLength),
		optionalEventID("exam_id", p.ExamID),
		idList("prerequisites", p.Prerequisites, MaxListLength),
	)
}

// References ...
func (p *CoursePayload) References() []string {
	return append([]string{p.ExamID}, p.Prerequisites...)
}

// ExamQuestion ...
type ExamQuestion struct {
	Question          string   `json:"question"`
	Options           []string `json:"options"`
	CorrectAnswerHash string   `json:"correct_answer_hash"`
}

// ExamPayload ...
type ExamPayload struct {
	Title             string         `json:"title"`
	CourseID          string         `json:"course_id,omitempty"`
	Questions         []ExamQuestion `json:"questions"`
	PassingScore      uint8          `json:"passing_score"`
	CertificationType string         `json:"certification_type"`
}

// Validate ...
func (p *ExamPayload) Validate() error {
	if err := firstErr(
		required("title", p.Title, MaxTitleLength),
		optionalEventID("course_id", p.CourseID),
		required("certification_type", p.CertificationType, MaxNameLength),
	); err != nil {
		return err
	}
	if p.PassingScore > 100 {
		return fmt.Errorf("passing_score must be in 0..100")
	}
	if len(p.Questions) == 0 || len(p.Questions) > MaxListLength {
		return fmt.Errorf("exam requires 1..%d questions", MaxListLength)
	}
	for i, q := range p.Questions {
		if err := required(fmt.Sprintf("questions[%d].question", i), q.Question, MaxTextLength); err != nil {
			return err
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("questions[%d] requires at least two options", i)
		}
		if err := eventID(fmt.Sprintf("questions[%d].correct_answer_hash", i), q.CorrectAnswerHash); err != nil {
			return err
		}
	}
	return nil
}

// References ...
func (p *ExamPayload) References() []string {
	return []string{p.CourseID}
}

// ExamSubmissionPayload ...
type ExamSubmissionPayload struct {
	ExamID  string `json:"exam_id"`
	Answers []int  `json:"answers"`
	Score   uint8  `json:"score"`
	Passed  bool   `json:"passed"`
}

// Validate ...
func (p *ExamSubmissionPayload) Validate() error {
	if err := eventID("exam_id", p.ExamID); err != nil {
		return err
	}
	if p.Score > 100 {
		return fmt.Errorf("score must be in 0..100")
	}
	for _, a := range p.Answers {
		if a < 0 {
			return fmt.Errorf("answers must be option indices")
		}
	}
	return nil
}

// References ...
func (p *ExamSubmissionPayload) References() []string {
	return []string{p.ExamID}
}

// CertificationPayload ...
type CertificationPayload struct {
	Recipient         string   `json:"recipient"`
	CertificationType string   `json:"certification_type"`
	ExamID            string   `json:"exam_id,omitempty"`
	IssuerSignatures  []string `json:"issuer_signatures,omitempty"`
	IssuedAt          int64    `json:"issued_at"`
	ExpiresAt         int64    `json:"expires_at,omitempty"`
}

// Validate ...
func (p *CertificationPayload) Validate() error {
	if err := firstErr(
		pubKey("recipient", p.Recipient),
		required("certification_type", p.CertificationType, MaxNameLength),
		optionalEventID("exam_id", p.ExamID),
	); err != nil {
		return err
	}
	if p.ExpiresAt != 0 && p.ExpiresAt <= p.IssuedAt {
		return fmt.Errorf("expires_at must be after issued_at")
	}
	return nil
}

// References ...
func (p *CertificationPayload) References() []string {
	return []string{p.Recipient, p.ExamID}
}
