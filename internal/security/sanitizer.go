// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は利用者の入力とスコアリング結果の文字列からマークアップを除去する。
// 診断結果はJSONのテキストとして配信されるため、HTMLは一切許可しない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/insightlab/insight/internal/model"
)

// maxFieldLength はサニタイズ後に保持する1フィールドあたりの最大文字数。
const maxFieldLength = 2000

// TextSanitizer はbluemondayの厳格ポリシーでテキストを無害化する。
// ポリシーは並行利用に対して安全。
type TextSanitizer struct {
	policy   *bluemonday.Policy
	unescape *strings.Replacer
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
		// 山括弧以外のエンティティは平文に戻す
		unescape: strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`, "&quot;", `"`),
	}
}

// Text はタグを除去し、前後の空白を取り除いた文字列を返す。
// 結果に山括弧は含まれない。同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	out := strings.TrimSpace(s.unescape.Replace(s.policy.Sanitize(raw)))
	if r := []rune(out); len(r) > maxFieldLength {
		out = string(r[:maxFieldLength])
	}
	return out
}

// Strings は各要素をサニタイズし、空になった要素を取り除く。
func (s *TextSanitizer) Strings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if clean := s.Text(v); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// Request は診断リクエストの自由記述フィールドをサニタイズする。
func (s *TextSanitizer) Request(req *model.AssessmentRequest) {
	if req == nil {
		return
	}
	req.AcademicInterests = s.Strings(req.AcademicInterests)
	req.TechnicalSkills = s.Strings(req.TechnicalSkills)
	req.SoftSkills = s.Strings(req.SoftSkills)
	req.CareerGoals = s.Text(req.CareerGoals)
	req.TargetRegion = s.Text(req.TargetRegion)
}

// Result はスコアリング結果のテキストをサニタイズする。
// 数値フィールドは0〜100の範囲に丸める。
func (s *TextSanitizer) Result(res *model.AssessmentResult) {
	if res == nil {
		return
	}
	for i := range res.CareerPaths {
		p := &res.CareerPaths[i]
		p.Title = s.Text(p.Title)
		p.Description = s.Text(p.Description)
		p.MatchScore = clampScore(p.MatchScore)
	}
	for i := range res.UniversityRecommendations {
		u := &res.UniversityRecommendations[i]
		u.Name = s.Text(u.Name)
		u.Location = s.Text(u.Location)
		u.Region = s.Text(u.Region)
		u.Program = s.Text(u.Program)
		u.AdmissionChance = s.Text(u.AdmissionChance)
		u.MatchScore = clampScore(u.MatchScore)
	}
	if m := res.MarketAnalysis; m != nil {
		m.CurrentDemand = s.Text(m.CurrentDemand)
		m.FutureOutlook = s.Text(m.FutureOutlook)
		m.SalaryRange = s.Text(m.SalaryRange)
		m.GrowthRate = s.Text(m.GrowthRate)
	}
}

func clampScore(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
