// Package envelope はバックエンドのレスポンスエンベロープを扱う。
//
// バックエンドの成功レスポンスは {"success":true,"data":{...}} の形とトップレベルに
// そのままペイロードを置く形が混在している。どちらの形かはこの境界でだけ判定する。
package envelope

import (
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// Unwrap はトップレベルにnull以外のdataフィールドがあればその生JSONを、なければボディ全体を返す。
// JSONとして不正なボディはそのまま返す。
func Unwrap(body []byte) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}
	if data := gjson.GetBytes(body, "data"); data.Exists() && data.Type != gjson.Null {
		return []byte(data.Raw)
	}
	return body
}

// Message はエラーレスポンスのmessageフィールドを返す。なければ空文字を返す。
func Message(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "message").String()
}

// Error はバックエンドと同じ形のエラーレスポンスボディを返す。
func Error(message string) gin.H {
	return gin.H{"success": false, "message": message}
}
