// internal/validation/url.go
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error 表示提交的 URL 未通过校验，任务不会被创建。
type Error struct {
	URL    string
	Reason string
}

func (e *Error) Error() string {
	if e.URL == "" {
		return e.Reason
	}
	return fmt.Sprintf("无效的 URL %q: %s", e.URL, e.Reason)
}

// Validator 校验下载地址。
type Validator struct {
	validate     *validator.Validate
	blockPrivate bool
}

// New 创建校验器。blockPrivate 为 true 时拒绝回环、内网和链路本地地址。
func New(blockPrivate bool) *Validator {
	v := &Validator{validate: validator.New(), blockPrivate: blockPrivate}
	_ = v.validate.RegisterValidation("fetchurl", v.fetchURL)
	return v
}

// URLs 检查整批 URL，返回遇到的第一个 *Error。
func (v *Validator) URLs(urls []string) error {
	if len(urls) == 0 {
		return &Error{Reason: "urls 不能为空"}
	}
	for _, u := range urls {
		if err := v.validate.Var(u, "required,fetchurl"); err != nil {
			return &Error{URL: u, Reason: reason(u)}
		}
	}
	return nil
}

func (v *Validator) fetchURL(fl validator.FieldLevel) bool {
	u, err := url.ParseRequestURI(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" || u.Hostname() == "" {
		return false
	}
	return !v.blockPrivate || !privateHost(u.Hostname())
}

// reason 给出比 validator 的 tag 名更可读的失败原因。
func reason(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "地址为空"
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "无法解析"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("不支持的协议 %q，只允许 http 和 https", u.Scheme)
	}
	if u.Hostname() == "" {
		return "缺少主机名"
	}
	return "不允许访问内网地址"
}

func privateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
