package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const webAppDataKey = "WebAppData"

// InitData проверенные данные запуска Mini App
type InitData struct {
	QueryID  string
	AuthDate time.Time
	User     InitDataUser
	Fields   map[string]string
}

// InitDataUser поле user из init data
type InitDataUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
}

// VerifyInitData проверяет подпись init data. Любая ошибка разбора = false.
func VerifyInitData(initData, botToken string) bool {
	fields, hash, err := parseInitData(initData)
	if err != nil {
		return false
	}
	return checkInitDataHash(fields, hash, botToken)
}

// ParseInitData проверяет подпись, свежесть auth_date (maxAge 0 = без проверки) и извлекает пользователя
func ParseInitData(initData, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	fields, hash, err := parseInitData(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if !checkInitDataHash(fields, hash, botToken) {
		return nil, fmt.Errorf("%w: hash mismatch", ErrAuthentication)
	}

	data := &InitData{
		QueryID: fields["query_id"],
		Fields:  fields,
	}

	if raw, ok := fields["auth_date"]; ok {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid auth_date", ErrAuthentication)
		}
		data.AuthDate = time.Unix(sec, 0)
	}
	if maxAge > 0 {
		if data.AuthDate.IsZero() || now.Sub(data.AuthDate) > maxAge {
			return nil, fmt.Errorf("%w: auth_date expired", ErrAuthentication)
		}
	}

	raw, ok := fields["user"]
	if !ok {
		return nil, fmt.Errorf("%w: missing user", ErrAuthentication)
	}
	if err := json.Unmarshal([]byte(raw), &data.User); err != nil {
		return nil, fmt.Errorf("%w: invalid user: %v", ErrAuthentication, err)
	}
	if data.User.ID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrAuthentication)
	}

	return data, nil
}

// DataCheckString строка для подписи: поля без hash, отсортированы по ключу, через \n
func DataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	return strings.Join(lines, "\n")
}

// SignInitData вычисляет hash для набора полей
func SignInitData(fields map[string]string, botToken string) string {
	secret := hmac.New(sha256.New, []byte(webAppDataKey))
	secret.Write([]byte(botToken))

	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(DataCheckString(fields)))
	return hex.EncodeToString(h.Sum(nil))
}

func checkInitDataHash(fields map[string]string, hash, botToken string) bool {
	expected := SignInitData(fields, botToken)
	return hmac.Equal([]byte(expected), []byte(hash))
}

func parseInitData(initData string) (map[string]string, string, error) {
	if initData == "" {
		return nil, "", errors.New("empty init data")
	}

	fields := make(map[string]string)
	for _, pair := range strings.Split(initData, "&") {
		rawKey, rawValue, ok := strings.Cut(pair, "=")
		if !ok || rawKey == "" {
			return nil, "", fmt.Errorf("malformed field %q", pair)
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, "", fmt.Errorf("malformed key %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, "", fmt.Errorf("malformed value for %q: %w", key, err)
		}
		if _, dup := fields[key]; dup {
			return nil, "", fmt.Errorf("duplicate field %q", key)
		}
		fields[key] = value
	}

	hash, ok := fields["hash"]
	if !ok || hash == "" {
		return nil, "", errors.New("missing hash")
	}
	delete(fields, "hash")

	return fields, hash, nil
}
