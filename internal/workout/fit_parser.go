package workout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tormoder/fit"
)

// FitParser はGarmin FITバイナリをParsedFileに変換するFileParser実装。
// アクティビティ以外のFITファイル(設定、コースなど)はエラーになる。
type FitParser struct{}

// NewFitParser はFitParserを生成する。
func NewFitParser() *FitParser {
	return &FitParser{}
}

var _ FileParser = (*FitParser)(nil)

// seriesSample は時系列サンプルのJSON表現。
// tは開始時刻からのオフセット秒。欠測フィールドは省略される。
type seriesSample struct {
	T       int64    `json:"t"`
	HR      *int     `json:"hr,omitempty"`
	Power   *int     `json:"power,omitempty"`
	Cadence *int     `json:"cadence,omitempty"`
	SpeedMS *float64 `json:"speed_ms,omitempty"`
	AltM    *float64 `json:"alt_m,omitempty"`
	DistM   *float64 `json:"dist_m,omitempty"`
}

// FITの欠測センチネル値。
const (
	fitInvalidUint8  = 0xFF
	fitInvalidUint16 = 0xFFFF
)

// Parse はFITファイルのバイト列をデコードし、最初のセッションの
// サマリーと全レコードの時系列を取り出す。
func (p *FitParser) Parse(data []byte) (*ParsedFile, error) {
	decoded, err := fit.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("FITファイルのデコードに失敗しました: %w", err)
	}

	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("アクティビティFITではありません: %w", err)
	}
	if len(activity.Sessions) == 0 {
		return nil, fmt.Errorf("FITファイルにセッションがありません")
	}

	session := activity.Sessions[0]
	parsed := &ParsedFile{
		StartDate: session.StartTime.UTC(),
		Sport:     session.Sport.String(),
	}

	if sec := session.GetTotalElapsedTimeScaled(); sec > 0 {
		v := int64(sec)
		parsed.DurationSec = &v
	}
	if dist := session.GetTotalDistanceScaled(); dist > 0 {
		parsed.DistanceM = &dist
	}
	if session.AvgPower != fitInvalidUint16 && session.AvgPower > 0 {
		v := float64(session.AvgPower)
		parsed.AvgPower = &v
	}
	if session.NormalizedPower != fitInvalidUint16 && session.NormalizedPower > 0 {
		v := float64(session.NormalizedPower)
		parsed.NormalizedPower = &v
	}

	series, err := buildSeries(session.StartTime, activity.Records)
	if err != nil {
		return nil, err
	}
	parsed.Series = series

	return parsed, nil
}

// buildSeries はレコードメッセージを時系列サンプルのJSON配列に変換する。
// レコードがない場合はnilを返す。
func buildSeries(start time.Time, records []*fit.RecordMsg) (json.RawMessage, error) {
	if len(records) == 0 {
		return nil, nil
	}

	samples := make([]seriesSample, 0, len(records))
	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			continue
		}
		s := seriesSample{T: int64(rec.Timestamp.Sub(start).Seconds())}
		if rec.HeartRate != fitInvalidUint8 {
			v := int(rec.HeartRate)
			s.HR = &v
		}
		if rec.Power != fitInvalidUint16 {
			v := int(rec.Power)
			s.Power = &v
		}
		if rec.Cadence != fitInvalidUint8 {
			v := int(rec.Cadence)
			s.Cadence = &v
		}
		if speed := rec.GetSpeedScaled(); rec.Speed != fitInvalidUint16 {
			s.SpeedMS = &speed
		}
		if alt := rec.GetAltitudeScaled(); rec.Altitude != fitInvalidUint16 {
			s.AltM = &alt
		}
		if dist := rec.GetDistanceScaled(); rec.Distance != 0xFFFFFFFF {
			s.DistM = &dist
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(samples)
	if err != nil {
		return nil, fmt.Errorf("時系列サンプルの変換に失敗しました: %w", err)
	}
	return data, nil
}
