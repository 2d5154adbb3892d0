package notify

import (
	"strings"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const timestampLayout = "2/1/2006, 15.04.05"

var (
	jakarta  = loadJakarta()
	rupiah   = message.NewPrinter(language.Indonesian)
	reserved = strings.NewReplacer(
		`_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
		`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`,
		`=`, `\=`, `|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
	)
)

func loadJakarta() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}

// Escape backslash-escapes every MarkdownV2 reserved character.
func Escape(s string) string {
	return reserved.Replace(s)
}

func formatRupiah(v int64) string {
	return rupiah.Sprintf("%d", v)
}

func triggerLabel(trigger string) string {
	switch trigger {
	case "create":
		return "Baru"
	case "reconcile":
		return "Cek Status"
	case "callback":
		return "Callback"
	}
	return trigger
}

// FormatNotice renders a notice as a Telegram MarkdownV2 message.
func FormatNotice(n model.SettlementNotice) string {
	var b strings.Builder

	b.WriteString("*🔔 Transaksi ePulsaku")
	if label := triggerLabel(n.Trigger); label != "" {
		b.WriteString(" " + Escape("("+label+")"))
	}
	b.WriteString("*\n\n")

	b.WriteString("*Provider:* " + Escape(n.Provider.DisplayName()) + "\n")
	b.WriteString("*ID Ref:* `" + Escape(n.RefID) + "`\n")
	if n.ProviderTransactionID != "" {
		b.WriteString("*ID Trx Provider:* `" + Escape(n.ProviderTransactionID) + "`\n")
	}
	b.WriteString("*Produk:* " + Escape(n.ProductName) + "\n")
	b.WriteString("*Tujuan:* " + Escape(n.Destination) + "\n")
	b.WriteString("*Status:* *" + Escape(string(n.Status)) + "*\n")

	switch n.Status {
	case model.StatusSukses:
		sn := "N/A"
		if n.SerialNumber != "" {
			sn = Escape(n.SerialNumber)
		}
		b.WriteString("*SN/Token:* `" + sn + "`\n")
		b.WriteString("*Harga Jual:* Rp " + Escape(formatRupiah(n.SellingPrice)) + "\n")
		b.WriteString("*Harga Modal:* Rp " + Escape(formatRupiah(n.CostPrice)) + "\n")
		if n.Profit != 0 {
			b.WriteString("*Profit:* Rp " + Escape(formatRupiah(n.Profit)) + "\n")
		}
	case model.StatusGagal:
		if n.FailureReason != "" {
			b.WriteString("*Alasan Gagal:* " + Escape(n.FailureReason) + "\n")
		}
	case model.StatusPending:
		b.WriteString("_Transaksi sedang diproses\\.\\.\\._\n")
	}

	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("\n_" + Escape(ts.In(jakarta).Format(timestampLayout)) + "_")
	return b.String()
}
