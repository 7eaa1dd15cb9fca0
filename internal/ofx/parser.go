// Package ofx reads OFX/QFX bank and card statements into provider records.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/aclindsa/ofxgo"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// An SGML opening tag at the end of a line with its closing bracket missing.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
	// IncludeCredits keeps deposits and refunds; by default only debits are emitted.
	IncludeCredits bool
}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{logger: slog.Default().With("component", "ofx")}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

func (p *Parser) parse(reader io.Reader) (*ofxgo.Response, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}
	return resp, nil
}

// ParseFile parses an OFX/QFX file into transaction records.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.ProviderRecord, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	var records []model.ProviderRecord
	var bankStmts, ccStmts, credits int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			recs, skipped := p.convertList(stmt.BankTranList, string(stmt.BankAcctFrom.AcctID), stmt.CurDef)
			records = append(records, recs...)
			credits += skipped
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			recs, skipped := p.convertList(stmt.BankTranList, string(stmt.CCAcctFrom.AcctID), stmt.CurDef)
			records = append(records, recs...)
			credits += skipped
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Info("parsed OFX file",
		"records", len(records),
		"credits_skipped", credits,
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return records, nil
}

func (p *Parser) convertList(list *ofxgo.TransactionList, accountID string, curDef ofxgo.CurrSymbol) ([]model.ProviderRecord, int) {
	if list == nil {
		return nil, 0
	}

	records := make([]model.ProviderRecord, 0, len(list.Transactions))
	skipped := 0
	for _, ofxTx := range list.Transactions {
		if ofxTx.TrnAmt.Sign() >= 0 && !p.IncludeCredits {
			skipped++
			continue
		}
		records = append(records, p.convertTransaction(ofxTx, accountID, currencyCode(curDef)))
	}
	return records, skipped
}

// convertTransaction converts an OFX transaction to a provider record.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, accountID, currency string) model.ProviderRecord {
	if ofxTx.Currency != nil {
		if code := currencyCode(ofxTx.Currency.CurSym); code != "" {
			currency = code
		}
	}

	rec := model.ProviderRecord{
		Source:               model.SourceTransaction,
		SubjectOrDescription: strings.TrimSpace(string(ofxTx.Name)),
		BodyOrMerchantString: p.extractMerchantName(ofxTx),
		SenderOrAccountRef:   accountID,
		Amount:               ofxTx.TrnAmt.FloatString(2),
		Currency:             currency,
		OccurredAt:           ofxTx.DtPosted.Time.UTC().Format(time.RFC3339),
		// FITIDs are only unique within one account.
		RawIdentifier: accountID + ":" + string(ofxTx.FiTID),
	}
	if ofxTx.Payee != nil && ofxTx.Payee.Name != "" {
		rec.MerchantHint = string(ofxTx.Payee.Name)
	}
	return rec
}

func currencyCode(sym ofxgo.CurrSymbol) string {
	code := sym.String()
	if code == "XXX" {
		return ""
	}
	return code
}

// extractMerchantName tries to get a clean merchant name from OFX data.
func (p *Parser) extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	// Leading "MM/DD " posting dates.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

// isGenericDescription checks if a transaction name is too generic.
func isGenericDescription(name string) bool {
	generic := []string{
		"DEBIT",
		"CREDIT",
		"PURCHASE",
		"PAYMENT",
		"POS TRANSACTION",
		"CARD PURCHASE",
		"RECURRING PAYMENT",
	}

	upperName := strings.ToUpper(name)
	for _, g := range generic {
		if upperName == g {
			return true
		}
	}
	return false
}

// GetAccounts extracts unique account IDs from the OFX file.
func (p *Parser) GetAccounts(ctx context.Context, reader io.Reader) ([]string, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []string
	add := func(id ofxgo.String) {
		if id != "" && !seen[string(id)] {
			seen[string(id)] = true
			accounts = append(accounts, string(id))
		}
	}

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			add(stmt.BankAcctFrom.AcctID)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			add(stmt.CCAcctFrom.AcctID)
		}
	}

	return accounts, ctx.Err()
}
