package cookie

import (
	"net/http"
	"strings"
)

// LocaleCookie はUIの表示言語を保持するCookie名。JavaScriptから読めるようhttpOnlyではない。
const LocaleCookie = "NEXT_LOCALE"

// headerSetCookie はSet-Cookieヘッダーのキー。
const headerSetCookie = "Set-Cookie"

// jar はCookie名の挿入順を保ったまま値を保持する。
type jar struct {
	// names は最初に現れた順のCookie名。
	names []string
	// values はCookie名から値への対応。
	values map[string]string
}

func newJar() *jar {
	return &jar{values: make(map[string]string)}
}

// set はCookieを追加する。既存の名前の場合は位置を保ったまま値だけ上書きする。
func (j *jar) set(name, value string) {
	if _, ok := j.values[name]; !ok {
		j.names = append(j.names, name)
	}
	j.values[name] = value
}

// String は "name=value; name2=value2" 形式に直列化する。
func (j *jar) String() string {
	pairs := make([]string, 0, len(j.names))
	for _, name := range j.names {
		pairs = append(pairs, name+"="+j.values[name])
	}
	return strings.Join(pairs, "; ")
}

// splitPair は "name=value" を最初の "=" で分割する。"=" がなければ値は空文字になる。
func splitPair(pair string) (name, value string) {
	name, value, _ = strings.Cut(strings.TrimSpace(pair), "=")
	return strings.TrimSpace(name), strings.TrimSpace(value)
}

// Merge はCookieヘッダーにSet-Cookieの値を上書きマージした新しいCookieヘッダーを返す。
// Set-Cookieは先頭の name=value だけを使い、Path や Max-Age などの属性は無視する。
// 同名のCookieはsetCookies側の値が優先される。
func Merge(base string, setCookies []string) string {
	j := newJar()

	for _, pair := range strings.Split(base, ";") {
		name, value := splitPair(pair)
		if name == "" {
			continue
		}
		j.set(name, value)
	}

	for _, sc := range setCookies {
		first, _, _ := strings.Cut(sc, ";")
		name, value := splitPair(first)
		if name == "" {
			continue
		}
		j.set(name, value)
	}

	return j.String()
}

// SetCookies はレスポンスヘッダーからSet-Cookieの値をすべて取り出す。
// 複数のSet-Cookieは連結せず、それぞれ別の要素として返す。
func SetCookies(h http.Header) []string {
	values := h.Values(headerSetCookie)
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// Relay はdstに既にあるSet-Cookieを削除し、groupsの値を順番に1つずつ追加する。
func Relay(dst http.Header, groups ...[]string) {
	dst.Del(headerSetCookie)
	for _, group := range groups {
		for _, v := range group {
			dst.Add(headerSetCookie, v)
		}
	}
}
