package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// AssessmentRequest はキャリア診断の入力を表す。
// AcademicInterestsは送信前に1件以上必要。
type AssessmentRequest struct {
	AcademicInterests   []string             `json:"academicInterests" validate:"required,min=1,dive,required"`
	TechnicalSkills     []string             `json:"technicalSkills"`
	SoftSkills          []string             `json:"softSkills"`
	CareerGoals         string               `json:"careerGoals"`
	TargetRegion        string               `json:"targetRegion,omitempty" validate:"max=100"`
	AcademicPerformance *AcademicPerformance `json:"academicPerformance" validate:"omitempty"`

	// Skills は旧クライアントの入れ子形式 {"skills": {"technical": [...], "soft": [...]}}。
	// Normalizeでフラットなフィールドに畳み込まれる。
	Skills *SkillSet `json:"skills,omitempty"`
}

// SkillSet は旧形式のスキル入力。
type SkillSet struct {
	Technical []string `json:"technical"`
	Soft      []string `json:"soft"`
}

// AcademicPerformance は学業成績を表す。
type AcademicPerformance struct {
	GPA float64 `json:"gpa" validate:"gte=0,lte=4"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Clone はスライスとポインタを複製したコピーを返す。
// コピーへのNormalizeやサニタイズは元のリクエストに影響しない。
func (r *AssessmentRequest) Clone() *AssessmentRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.AcademicInterests = slices.Clone(r.AcademicInterests)
	c.TechnicalSkills = slices.Clone(r.TechnicalSkills)
	c.SoftSkills = slices.Clone(r.SoftSkills)
	if r.AcademicPerformance != nil {
		ap := *r.AcademicPerformance
		c.AcademicPerformance = &ap
	}
	if r.Skills != nil {
		c.Skills = &SkillSet{
			Technical: slices.Clone(r.Skills.Technical),
			Soft:      slices.Clone(r.Skills.Soft),
		}
	}
	return &c
}

// Normalize は旧形式のskillsをフラットなフィールドに畳み込み、
// 学問分野の前後空白を除去して空要素を取り除く。
func (r *AssessmentRequest) Normalize() {
	if r.Skills != nil {
		if len(r.TechnicalSkills) == 0 {
			r.TechnicalSkills = r.Skills.Technical
		}
		if len(r.SoftSkills) == 0 {
			r.SoftSkills = r.Skills.Soft
		}
		r.Skills = nil
	}

	interests := make([]string, 0, len(r.AcademicInterests))
	for _, in := range r.AcademicInterests {
		if s := strings.TrimSpace(in); s != "" {
			interests = append(interests, s)
		}
	}
	r.AcademicInterests = interests
	r.TargetRegion = strings.TrimSpace(r.TargetRegion)
}

// Validate はリクエストを検証する。失敗時はErrInvalidSubmissionに該当するAPIErrorを返す。
// ネットワーク呼び出しを伴わないため、クライアント側の事前検証にも使用する。
func (r *AssessmentRequest) Validate() error {
	if r == nil {
		return NewInvalidSubmissionError("request is empty")
	}
	if len(r.AcademicInterests) == 0 {
		return NewInvalidSubmissionError("academicInterests must not be empty")
	}
	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewInvalidSubmissionError(fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
		}
		return NewInvalidSubmissionError(err.Error())
	}
	return nil
}

// ScoringGoals はスコアリングに渡すキャリア目標を返す。
// 志望地域が指定されている場合は目標の末尾に追記する。
func (r *AssessmentRequest) ScoringGoals() string {
	if r.TargetRegion == "" {
		return r.CareerGoals
	}
	return r.CareerGoals + fmt.Sprintf(" I am particularly interested in studying in %s.", r.TargetRegion)
}

// CareerPath はキャリアパスの候補。
type CareerPath struct {
	Title       string `json:"title"`
	MatchScore  int    `json:"matchScore"`
	Description string `json:"description"`
}

// UniversityRecommendation は大学の推薦候補。
type UniversityRecommendation struct {
	Name            string   `json:"name"`
	Rank            *int     `json:"rank,omitempty"`
	Location        string   `json:"location,omitempty"`
	Region          string   `json:"region,omitempty"`
	Program         string   `json:"program"`
	AdmissionChance string   `json:"admissionChance"`
	Score           *float64 `json:"score,omitempty"`
	MatchScore      int      `json:"matchScore"`
}

// MarketAnalysis は職業市場の分析。
type MarketAnalysis struct {
	CurrentDemand string `json:"currentDemand"`
	FutureOutlook string `json:"futureOutlook"`
	SalaryRange   string `json:"salaryRange"`
	GrowthRate    string `json:"growthRate"`
}

// AssessmentResult はスコアリング結果。作成後は変更しない。
type AssessmentResult struct {
	CareerPaths               []CareerPath               `json:"careerPaths"`
	UniversityRecommendations []UniversityRecommendation `json:"universityRecommendations"`
	MarketAnalysis            *MarketAnalysis            `json:"marketAnalysis,omitempty"`
}

// PrimaryCareer は先頭のキャリアパスのタイトルを返す。候補がない場合は空文字。
func (r *AssessmentResult) PrimaryCareer() string {
	if r == nil || len(r.CareerPaths) == 0 {
		return ""
	}
	return r.CareerPaths[0].Title
}

// AssessmentRecord は保存済みの診断結果を表す。作成後は不変。
type AssessmentRecord struct {
	ID            string            `json:"id"`
	OwnerUserID   string            `json:"ownerUserId"`
	CreatedAt     time.Time         `json:"createdAt"`
	PrimaryCareer string            `json:"primaryCareer"`
	Request       AssessmentRequest `json:"request"`
	Results       AssessmentResult  `json:"results"`
}
