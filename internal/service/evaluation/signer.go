package evaluation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

const (
	signAlgorithm = "hmac-sha256"
	signedHeaders = "host date request-line"
)

// Signer 为每次连接生成带鉴权参数的 URL
type Signer struct {
	creds   model.Credentials
	hostURL string
	host    string
	path    string
}

// NewSigner 解析服务地址，返回绑定凭证的签名器
func NewSigner(creds model.Credentials, hostURL string) (*Signer, error) {
	u, err := url.Parse(hostURL)
	if err != nil {
		return nil, newError(KindSigning, "NewSigner", "invalid host url", err)
	}
	if u.Host == "" {
		return nil, newError(KindSigning, "NewSigner", fmt.Sprintf("host url %q has no host", hostURL), nil)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &Signer{creds: creds, hostURL: hostURL, host: u.Host, path: path}, nil
}

// Sign 使用给定时间签名。每次连接都必须传入新的时间。
func (s *Signer) Sign(ts time.Time) (model.SignedEndpoint, error) {
	return Sign(s.creds, s.hostURL, s.host, s.path, ts)
}

// Sign 按 host/date/request-line 规则计算 HMAC-SHA256 签名并拼接连接地址
func Sign(creds model.Credentials, hostURL, host, path string, ts time.Time) (model.SignedEndpoint, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return model.SignedEndpoint{}, newError(KindSigning, "Sign", "api key or api secret missing", nil)
	}

	date := ts.UTC().Format(http.TimeFormat)
	origin := "host: " + host + "\n" +
		"date: " + date + "\n" +
		"GET " + path + " HTTP/1.1"

	mac := hmac.New(sha256.New, []byte(creds.APISecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authorizationOrigin := fmt.Sprintf(`api_key="%s", algorithm="%s", headers="%s", signature="%s"`,
		creds.APIKey, signAlgorithm, signedHeaders, signature)
	authorization := base64.StdEncoding.EncodeToString([]byte(authorizationOrigin))

	query := url.Values{}
	query.Set("authorization", authorization)
	query.Set("date", date)
	query.Set("host", host)

	return model.SignedEndpoint{
		URL:      hostURL + "?" + query.Encode(),
		IssuedAt: ts,
	}, nil
}
