package app

// Command はCLIのサブコマンドを表す。
type Command string

const (
	// CommandWhoami は現在のセッション状態を表示する。
	CommandWhoami Command = "whoami"
	// CommandLogin はIDプロバイダーでログインする。
	CommandLogin Command = "login"
	// CommandLogout はログアウトする。
	CommandLogout Command = "logout"
	// CommandProperties は物件一覧を表示する。
	CommandProperties Command = "properties"
	// CommandProperty はID指定で物件を表示する。
	CommandProperty Command = "property"
	// CommandPortfolio は投資サマリー・保有物件・賃貸契約をまとめて表示する。
	CommandPortfolio Command = "portfolio"
	// CommandLeases は賃貸契約一覧を表示する。
	CommandLeases Command = "leases"
	// CommandDashboard はダッシュボードを1回表示する。
	CommandDashboard Command = "dashboard"
	// CommandWatch はダッシュボードを定期的に更新し続ける。
	CommandWatch Command = "watch"
	// CommandBuy は持分を購入する。
	CommandBuy Command = "buy"
	// CommandRegisterProperty は物件を登録する。
	CommandRegisterProperty Command = "register-property"
	// CommandRegisterLease は賃貸契約を登録する。
	CommandRegisterLease Command = "register-lease"
	// CommandRegisterUser は利用者を登録する。
	CommandRegisterUser Command = "register-user"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandDevBackend はローカル開発用のインメモリバックエンドを起動する。
	CommandDevBackend Command = "dev-backend"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
	// CommandUnknown はサポート外のコマンド。
	CommandUnknown Command = ""
)

var commands = map[string]Command{
	string(CommandWhoami):           CommandWhoami,
	string(CommandLogin):            CommandLogin,
	string(CommandLogout):           CommandLogout,
	string(CommandProperties):       CommandProperties,
	string(CommandProperty):         CommandProperty,
	string(CommandPortfolio):        CommandPortfolio,
	string(CommandLeases):           CommandLeases,
	string(CommandDashboard):        CommandDashboard,
	string(CommandWatch):            CommandWatch,
	string(CommandBuy):              CommandBuy,
	string(CommandRegisterProperty): CommandRegisterProperty,
	string(CommandRegisterLease):    CommandRegisterLease,
	string(CommandRegisterUser):     CommandRegisterUser,
	string(CommandMigrate):          CommandMigrate,
	string(CommandDevBackend):       CommandDevBackend,
	string(CommandHelp):             CommandHelp,
	"-h":                            CommandHelp,
	"--help":                        CommandHelp,
}

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// 引数が空の場合はCommandHelp、サポート外の場合はCommandUnknownを返す。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandHelp, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return CommandUnknown, args[1:]
	}
	return cmd, args[1:]
}

// needsSession はコマンドがバックエンドへのセッションを必要とするかを返す。
func (c Command) needsSession() bool {
	switch c {
	case CommandMigrate, CommandDevBackend, CommandHelp, CommandUnknown:
		return false
	default:
		return true
	}
}

const usage = `使い方: coestate <command> [flags]

セッション:
  whoami                      現在のセッション状態を表示する
  login                       IDプロバイダーでログインする
  logout                      ログアウトする

参照:
  properties [--type T]       物件一覧
  property <id>               物件詳細
  portfolio                   投資サマリー・保有物件・賃貸契約
  leases [--all]              賃貸契約一覧
  dashboard                   ダッシュボード
  watch [--interval D]        ダッシュボードを定期更新する

更新:
  buy <property-id> <shares>  持分を購入する
  register-property [flags]   物件を登録する
  register-lease [flags]      賃貸契約を登録する
  register-user               利用者を登録する

運用:
  migrate                     資格情報テーブルのマイグレーション
  dev-backend [--addr A]      ローカル開発用バックエンドを起動する
`
