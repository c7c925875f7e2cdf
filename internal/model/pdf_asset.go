package model

import "time"

// PdfAsset はPDFアセットカタログの1行を表す。
// module/lesson/スコア帯をストレージ上のオブジェクトパスに対応付ける。
// (module, lesson, is_default=true) の一意性は運用上の規約であり、
// アプリケーション内では強制しない。
type PdfAsset struct {
	ID         string     `json:"id"`
	Module     string     `json:"module"`
	Lesson     string     `json:"lesson,omitempty"`
	Label      string     `json:"label,omitempty"`
	OrderIndex int        `json:"order_index"`
	Bucket     string     `json:"bucket,omitempty"`
	Path       string     `json:"path"`
	IsDefault  bool       `json:"is_default"`
	ScoreMin   *int       `json:"score_min,omitempty"`
	ScoreMax   *int       `json:"score_max,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// MatchesScore は指定スコアがこのアセットのスコア帯に含まれるか判定する。
// 境界が片側のみ設定されている場合はその境界のみを評価する。
// 両側とも未設定の場合はスコア条件なしとして常にtrueを返す。
func (a *PdfAsset) MatchesScore(score int) bool {
	if a.ScoreMin != nil && score < *a.ScoreMin {
		return false
	}
	if a.ScoreMax != nil && score > *a.ScoreMax {
		return false
	}
	return true
}
