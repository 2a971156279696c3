package units

import (
	"context"
	"strings"

	platformdb "ELMS-backend/internal/platform/db"
)

// 可用性台帳の操作は markUnavailable / markAvailable の2つだけに絞る。
// すべての available 変化が貸出/返却遷移（と明示的な手動訂正）に帰属できるようにするため、
// 汎用updateはあえて用意しない。
//
// どちらもIN句1文で適用するので all-or-nothing。存在しないコードは黙ってスキップされ、
// マッチ件数を返すので空振りバッチの警告判断は呼び出し側が行う。

func MarkUnavailable(ctx context.Context, q platformdb.DBTX, codes []string) (int64, error) {
	return setAvailability(ctx, q, codes, false)
}

func MarkAvailable(ctx context.Context, q platformdb.DBTX, codes []string) (int64, error) {
	return setAvailability(ctx, q, codes, true)
}

func setAvailability(ctx context.Context, q platformdb.DBTX, codes []string, available bool) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	sb := strings.Builder{}
	sb.WriteString(`UPDATE asset_units SET available = ?, updated_at = NOW(6) WHERE serial_code IN (`)
	args := make([]any, 0, len(codes)+1)
	args = append(args, available)
	for i, code := range codes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
		args = append(args, code)
	}
	sb.WriteString(`)`)

	res, err := q.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
