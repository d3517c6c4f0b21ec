package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"SalesSync/internal/config"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"
	tokenFile       = "token.json"
)

// oauthConfig 读取 auth_path 下的 OAuth 客户端凭据
func oauthConfig(authPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(filepath.Join(authPath, credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("读取Gmail凭据失败: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("解析Gmail凭据失败: %w", err)
	}
	return cfg, nil
}

// NewService 用已保存的 token 创建 Gmail 客户端；token 刷新后会写回文件。
// 运行期间不做交互授权，没有 token 时需先执行 auth 命令
func NewService(ctx context.Context, cfg config.MailConfig, logger *logrus.Logger) (*gmailapi.Service, error) {
	oauthCfg, err := oauthConfig(cfg.AuthPath)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.AuthPath, tokenFile)
	tok, err := loadToken(path)
	if err != nil {
		return nil, fmt.Errorf("读取Gmail token失败（请先执行 auth 命令）: %w", err)
	}
	ts := &savingTokenSource{
		base:   oauthCfg.TokenSource(ctx, tok),
		path:   path,
		last:   tok.AccessToken,
		logger: logger,
	}
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("创建Gmail客户端失败: %w", err)
	}
	return svc, nil
}

// authTimeout 等待浏览器回调或手动粘贴的最长时间
const authTimeout = 5 * time.Minute

// Authorize 交互式授权并保存 token。Google 已停用 OOB 授权码页面，改为在本机回环地址上接收
// 重定向回调；浏览器不在本机时，可把跳转后地址栏里的完整地址（或其中的 code）粘贴回终端
func Authorize(ctx context.Context, cfg config.MailConfig, in io.Reader, out io.Writer) error {
	oauthCfg, err := oauthConfig(cfg.AuthPath)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("启动本地回调监听失败: %w", err)
	}
	defer ln.Close()
	oauthCfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state := uuid.NewString()
	authURL := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "在浏览器中打开以下链接完成授权:\n%s\n"+
		"授权后浏览器会跳转回 %s 并自动完成；若浏览器不在本机，请把跳转后的完整地址粘贴到这里:\n> ",
		authURL, oauthCfg.RedirectURL)

	code, err := waitForCode(ctx, ln, in, state)
	if err != nil {
		return err
	}
	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("换取token失败: %w", err)
	}
	path := filepath.Join(cfg.AuthPath, tokenFile)
	if err := saveToken(path, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "token 已保存到 %s\n", path)
	return nil
}

// waitForCode 取先到达的授权码：本地回调，或终端粘贴的地址/授权码
func waitForCode(ctx context.Context, ln net.Listener, in io.Reader, state string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	deliver := func(code string, err error) {
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		select {
		case codes <- code:
		default:
		}
	}

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 浏览器会顺带请求 /favicon.ico
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			code, err := codeFromQuery(r.URL.Query(), state)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				deliver("", err)
				return
			}
			fmt.Fprintln(w, "授权完成，可以关闭此页面")
			deliver(code, nil)
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			// 没有输入（或输入已关闭）时继续等回调
			if err != nil && err != io.EOF {
				deliver("", fmt.Errorf("读取授权码失败: %w", err))
			}
			return
		}
		deliver(extractCode(line, state))
	}()

	select {
	case code := <-codes:
		return code, nil
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("等待授权超时: %w", ctx.Err())
	}
}

// extractCode 粘贴内容可以是跳转后的完整地址，也可以只是授权码
func extractCode(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if !strings.Contains(input, "code=") && !strings.Contains(input, "error=") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("无法解析粘贴的地址: %w", err)
	}
	return codeFromQuery(u.Query(), state)
}

func codeFromQuery(q url.Values, state string) (string, error) {
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("授权被拒绝: %s", e)
	}
	if q.Get("state") != state {
		return "", errors.New("授权回调的 state 不匹配")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("授权回调中没有 code")
	}
	return code, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("创建token目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("保存token失败: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// savingTokenSource token 刷新后写回文件，下次启动不需要重新授权
type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger *logrus.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			s.logger.WithError(err).Warn("写回刷新后的Gmail token失败")
		} else {
			s.logger.Debug("Gmail token 已刷新")
		}
	}
	return tok, nil
}
