package auth

// User-facing messages. The UI shows them verbatim.
const (
	msgConfirmationSent   = "メールアドレスに確認リンクを送信しました。確認後にログインしてください。"
	msgAlreadyRegistered  = "このメールアドレスは既に登録されています"
	msgWeakPassword       = "パスワードは8文字以上で入力してください"
	msgInvalidEmail       = "メールアドレスの形式が正しくありません"
	msgSignupDisabled     = "ユーザー登録は現在無効になっています"
	msgSignupFailed       = "アカウント作成に失敗しました"
	msgSignupUnexpected   = "アカウント作成中に予期しないエラーが発生しました"
	msgEmailNotConfirmed  = "メールアドレスの確認が完了していません。確認メールをご確認ください。"
	msgInvalidCredentials = "メールアドレスまたはパスワードが正しくありません。"
	msgLoginFailed        = "ログインに失敗しました"
	msgLoginUnexpected    = "ログイン中に予期しないエラーが発生しました"
	msgLogoutFailed       = "ログアウト中にエラーが発生しました"
	msgLogoutUnexpected   = "ログアウト中に予期しないエラーが発生しました"
	msgResetUnexpected    = "パスワードリセット中に予期しないエラーが発生しました"
	msgPasswordUnexpected = "パスワード更新中に予期しないエラーが発生しました"
	msgUserUnexpected     = "ユーザー情報の取得中にエラーが発生しました"
	msgProfileUnexpected  = "プロフィール更新中に予期しないエラーが発生しました"
	msgSessionUnexpected  = "セッション取得中に予期しないエラーが発生しました"
	msgVerifyUnexpected   = "メールアドレスの確認中に予期しないエラーが発生しました"
	msgNotAuthenticated   = "ログインしていません。再度ログインしてください。"
	msgProfileNotFound    = "プロフィールが見つかりません"
	msgTokenExpired       = "確認リンクの有効期限が切れています。新しい確認メールをリクエストしてください。"
	msgInvalidLink        = "無効な確認リンクです。"
)
