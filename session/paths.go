package session

// Store paths for a session. All are '/'-separated.
const Root = "sessionCodes"

func Path(code string) string           { return Root + "/" + code }
func PlayersPath(code string) string    { return Path(code) + "/players" }
func PlayerPath(code, id string) string { return PlayersPath(code) + "/" + id }
func StatusPath(code string) string     { return Path(code) + "/sessionStatus" }
func GameStatusPath(code string) string { return Path(code) + "/gameStatus" }

func ReadyPath(code, id string) string { return PlayerPath(code, id) + "/isReady" }
