package fitness

import "math"

// tssPerHour はスポーツ種別ごとの1時間あたり推定TSS。
// 出力計もプロバイダ供給値もないワークアウトの最終フォールバックに使う。
var tssPerHour = map[string]float64{
	"Run":         60,
	"Ride":        55,
	"VirtualRide": 55,
	"Swim":        65,
	"Walk":        35,
	"Hike":        40,
}

// defaultTSSPerHour は未知スポーツの1時間あたり推定TSS。
const defaultTSSPerHour = 50

// EstimateTSSFromPower は出力データからTSSを計算する。
// tss = durationSec × NP² / (FTP² × 36)。NP(Normalized Power)がない場合は
// 呼び出し側で平均出力を渡す。所要時間・出力・FTPのいずれかが正でない
// 場合は計算不能としてfalseを返す。
func EstimateTSSFromPower(durationSec int64, normalizedPower, ftp float64) (float64, bool) {
	if durationSec <= 0 || normalizedPower <= 0 || ftp <= 0 {
		return 0, false
	}
	tss := (float64(durationSec) * normalizedPower * normalizedPower) / (ftp * ftp * 36)
	return round1(tss), true
}

// EstimateTSSBySport はスポーツ種別と所要時間からTSSを推定する。
// 未知の種別には既定値を適用する。所要時間が正でない場合は0を返す。
func EstimateTSSBySport(sport string, durationSec int64) float64 {
	if durationSec <= 0 {
		return 0
	}
	perHour, ok := tssPerHour[sport]
	if !ok {
		perHour = defaultTSSPerHour
	}
	return round1(float64(durationSec) / 3600 * perHour)
}

// round1 は小数第1位に丸める。
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
