package web

const (
	msgUnexpected     = "予期しないエラーが発生しました。"
	msgUnavailable    = "しばらくしてから再度お試しください。"
	msgBadRequest     = "送信内容を読み取れませんでした。"
	msgResetSent      = "パスワードリセット用のメールを送信しました。メールをご確認ください。"
	msgEmailConfirmed = "メールアドレスの確認が完了しました。"
	msgPasswordLogin  = "パスワードを変更するにはログインしてください。"
	msgTooMany        = "試行回数が上限に達しました。しばらくしてから再度お試しください。"
	msgSuperseded     = "別の操作と重なったため処理を中断しました。もう一度お試しください。"
)
