package web

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/tokutei-learning/tokutei/backend"
)

var templateFuncs = template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return "-"
		}
		return *s
	},
	"derefInt": func(n *int) string {
		if n == nil {
			return "-"
		}
		return fmt.Sprint(*n)
	},
	"roleLabel": func(r backend.Role) string {
		switch r {
		case backend.RoleStudent:
			return "学習者"
		case backend.RoleTeacher:
			return "講師"
		default:
			return "-"
		}
	},
}

func renderTemplate(w io.Writer, name string, data map[string]any) error {
	content, ok := templates[name]
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}
	tmpl, err := template.New("layout").Funcs(templateFuncs).Parse(templates["layout"])
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}
	if _, err := tmpl.New("content").Parse(content); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return tmpl.Execute(w, data)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data map[string]any) {
	var buf bytes.Buffer
	if err := renderTemplate(&buf, name, data); err != nil {
		s.logger.Error("template render failed", "template", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

var templates = map[string]string{
	"layout": `<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}} | TOKUTEI Learning</title>
</head>
<body>
<header>
<a href="/">TOKUTEI Learning</a>
{{if .State.IsAuthenticated}}
<nav>
<a href="/study">学習</a> <a href="/practice">練習</a> <a href="/profile">プロフィール</a>
{{if .State.Profile}}<span>{{.State.Profile.FullName}}（{{roleLabel .State.Profile.Role}}）</span>{{end}}
<form method="post" action="/logout" data-form><button type="submit">ログアウト</button></form>
</nav>
{{else}}
<nav><a href="/login">ログイン</a> <a href="/signup">新規登録</a></nav>
{{end}}
</header>
<main>
{{template "content" .}}
</main>
</body>
</html>`,

	"home": `<h1>TOKUTEI Learning</h1>
{{if .State.IsAuthenticated}}
<p>ようこそ{{if .State.Profile}}、{{.State.Profile.FullName}}さん{{end}}</p>
{{else}}
<p>特定技能試験の学習を始めましょう。</p>
{{end}}`,

	"login": `<h1>ログイン</h1>
<form method="post" action="/login" data-form>
<input type="hidden" name="from" value="{{.From}}">
<label>メールアドレス <input type="email" name="email" required></label>
<label>パスワード <input type="password" name="password" required></label>
<button type="submit">ログイン</button>
</form>
<p><a href="/reset-password">パスワードをお忘れですか？</a></p>
<p><a href="/signup">アカウントをお持ちでない方はこちら</a></p>`,

	"signup": `<h1>新規登録</h1>
<form method="post" action="/signup" data-form>
<label>氏名 <input type="text" name="full_name" required></label>
<label>メールアドレス <input type="email" name="email" required></label>
<label>パスワード <input type="password" name="password" required></label>
<label>パスワード（確認） <input type="password" name="confirm_password" required></label>
<fieldset>
<legend>役割</legend>
<label><input type="radio" name="role" value="student" checked> 学習者</label>
<label><input type="radio" name="role" value="teacher"> 講師</label>
</fieldset>
<label>組織名 <input type="text" name="organization_name"></label>
<button type="submit">登録</button>
</form>
<p><a href="/login">既にアカウントをお持ちの方はこちら</a></p>`,

	"reset": `<h1>パスワードリセット</h1>
{{if .Sent}}
<p>{{.Sent}}</p>
{{end}}
{{if .State.IsAuthenticated}}
<form method="post" action="/reset-password" data-form>
<label>新しいパスワード <input type="password" name="password" required></label>
<label>新しいパスワード（確認） <input type="password" name="confirm_password" required></label>
<button type="submit">パスワードを変更</button>
</form>
{{else}}
<p>登録されているメールアドレスを入力してください。パスワードリセット用のリンクをお送りします。</p>
<form method="post" action="/reset-password" data-form>
<label>メールアドレス <input type="email" name="email" required></label>
<button type="submit">送信</button>
</form>
{{end}}
<p><a href="/login">ログインに戻る</a></p>`,

	"confirm": `<h1>メールアドレスの確認</h1>
{{if .Error}}
<p role="alert">{{.Error}}</p>
<p><a href="/login">ログインへ</a></p>
{{else}}
<p>{{.Message}}</p>
<p><a href="/">ホームへ</a></p>
{{end}}`,

	"pending": `<h1>メール確認待ち</h1>
{{if .Email}}<p><strong>{{.Email}}</strong> にメール確認リンクを送信しました。</p>{{end}}
<p>メール内のリンクをクリックして登録を完了してください。確認後にログインできます。</p>
<p><a href="/login">ログインへ</a></p>`,

	"unauthorized": `<h1>アクセス権限がありません</h1>
<p>申し訳ございません。このページを表示する権限がありません。</p>
<p><a href="/">ホームへ戻る</a></p>`,

	"study": `<h1>学習</h1>
<p>{{.State.Profile.FullName}}さんの学習コンテンツ</p>
{{if .State.Profile.LearningLevel}}<p>レベル: {{deref .State.Profile.LearningLevel}}</p>{{end}}`,

	"practice": `<h1>練習問題</h1>
<p>{{.State.Profile.FullName}}さんの練習問題</p>`,

	"teacher": `<h1>講師ダッシュボード</h1>
<dl>
<dt>組織名</dt><dd>{{deref .State.Profile.OrganizationName}}</dd>
<dt>講師コード</dt><dd>{{deref .State.Profile.TeacherCode}}</dd>
<dt>最大学習者数</dt><dd>{{derefInt .State.Profile.MaxStudents}}</dd>
</dl>`,

	"profile": `<h1>プロフィール</h1>
<dl>
<dt>メールアドレス</dt><dd>{{.State.User.Email}}</dd>
{{if .State.Profile}}<dt>役割</dt><dd>{{roleLabel .State.Profile.Role}}</dd>{{end}}
</dl>
<form method="post" action="/profile" data-form>
<label>氏名 <input type="text" name="full_name" value="{{if .State.Profile}}{{.State.Profile.FullName}}{{end}}" required></label>
{{if .State.Profile}}
<label>希望言語 <input type="text" name="preferred_language" value="{{with .State.Profile.PreferredLanguage}}{{.}}{{end}}"></label>
<label>学習レベル <input type="text" name="learning_level" value="{{with .State.Profile.LearningLevel}}{{.}}{{end}}"></label>
{{end}}
<button type="submit">保存</button>
</form>
<p><a href="/reset-password">パスワードを変更</a></p>`,
}
