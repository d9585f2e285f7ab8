package display

import (
	"fmt"
	"io"

	"github.com/backmassage/metascrub/internal/term"
)

const banner = `                 _
 _ __ ___   ___| |_ __ _ ___  ___ _ __ _   _| |__
| '_ ` + "`" + ` _ \ / _ \ __/ _` + "`" + ` / __|/ __| '__| | | | '_ \
| | | | | |  __/ || (_| \__ \ (__| |  | |_| | |_) |
|_| |_| |_|\___|\__\__,_|___/\___|_|   \__,_|_.__/
`

// PrintBanner writes the ASCII art banner, in magenta when colors are on.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, term.Magenta.Sprint(banner))
	fmt.Fprintln(w)
}
