package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/insightlab/insight/internal/model"
)

// ErrMalformedOutput はモデルの出力が結果スキーマに合致しないことを表す。
var ErrMalformedOutput = errors.New("scoring output does not match the result schema")

// resultSchema はモデル出力のJSON Schema。
const resultSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["careerPaths", "universityRecommendations"],
  "properties": {
    "careerPaths": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "matchScore", "description"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "matchScore": {"type": "number", "minimum": 0, "maximum": 100},
          "description": {"type": "string"}
        }
      }
    },
    "universityRecommendations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "program", "admissionChance", "matchScore"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "rank": {"type": ["number", "null"], "minimum": 1},
          "location": {"type": "string"},
          "region": {"type": "string"},
          "program": {"type": "string"},
          "admissionChance": {"type": "string"},
          "score": {"type": ["number", "null"]},
          "matchScore": {"type": "number", "minimum": 0, "maximum": 100}
        }
      }
    },
    "marketAnalysis": {
      "type": "object",
      "properties": {
        "currentDemand": {"type": "string"},
        "futureOutlook": {"type": "string"},
        "salaryRange": {"type": "string"},
        "growthRate": {"type": "string"}
      }
    }
  }
}`

var compiledResultSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(resultSchema))
})

// ValidationError はスキーマ検証エラーをフィールド単位で保持する。
type ValidationError struct {
	Errors []FieldError
}

// FieldError は特定フィールドの検証エラー。
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:")
	for _, e := range ve.Errors {
		fmt.Fprintf(&sb, " %s: %s;", e.Field, e.Message)
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Is はErrMalformedOutputとの比較を可能にする。
func (ve *ValidationError) Is(target error) bool {
	return target == ErrMalformedOutput
}

// rawResult はスコアを浮動小数で受け取るための中間表現。
type rawResult struct {
	CareerPaths []struct {
		Title       string  `json:"title"`
		MatchScore  float64 `json:"matchScore"`
		Description string  `json:"description"`
	} `json:"careerPaths"`
	UniversityRecommendations []struct {
		Name            string   `json:"name"`
		Rank            *float64 `json:"rank"`
		Location        string   `json:"location"`
		Region          string   `json:"region"`
		Program         string   `json:"program"`
		AdmissionChance string   `json:"admissionChance"`
		Score           *float64 `json:"score"`
		MatchScore      float64  `json:"matchScore"`
	} `json:"universityRecommendations"`
	MarketAnalysis *model.MarketAnalysis `json:"marketAnalysis"`
}

// ParseResult はモデルの出力テキストを検証し、AssessmentResultに変換する。
// Markdownのコードブロックで囲まれた出力も受け付ける。
func ParseResult(text string) (*model.AssessmentResult, error) {
	body := cleanJSONBlock(text)
	if body == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}

	schema, err := compiledResultSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile result schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	if !result.Valid() {
		verr := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "" {
				field = "(root)"
			}
			verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
		}
		return nil, verr
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	out := &model.AssessmentResult{
		CareerPaths:               make([]model.CareerPath, 0, len(raw.CareerPaths)),
		UniversityRecommendations: make([]model.UniversityRecommendation, 0, len(raw.UniversityRecommendations)),
		MarketAnalysis:            raw.MarketAnalysis,
	}
	for _, p := range raw.CareerPaths {
		out.CareerPaths = append(out.CareerPaths, model.CareerPath{
			Title:       p.Title,
			MatchScore:  roundScore(p.MatchScore),
			Description: p.Description,
		})
	}
	for _, u := range raw.UniversityRecommendations {
		rec := model.UniversityRecommendation{
			Name:            u.Name,
			Location:        u.Location,
			Region:          u.Region,
			Program:         u.Program,
			AdmissionChance: u.AdmissionChance,
			Score:           u.Score,
			MatchScore:      roundScore(u.MatchScore),
		}
		if u.Rank != nil {
			rank := int(math.Round(*u.Rank))
			rec.Rank = &rank
		}
		out.UniversityRecommendations = append(out.UniversityRecommendations, rec)
	}
	return out, nil
}

func roundScore(v float64) int {
	return int(math.Round(v))
}

// cleanJSONBlock はMarkdownのコードブロック記法を取り除く。
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
