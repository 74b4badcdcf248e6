package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	ResultsLinkTTLDays = 7

	StaleDigestSubject = "API Stale Submissions"
)

// Templates renders the html bodies of every email the system sends.
type Templates struct {
	// SiteURL is linked as the contact page in the signature. Empty drops the link.
	SiteURL string
	Now     func() time.Time
}

func (t Templates) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Signature closes every submitter email.
func (t Templates) Signature() string {
	if t.SiteURL == "" {
		return "<br>Primer-ID team @UNC<br>"
	}
	return fmt.Sprintf(
		"<br><br>If you have any questions, feel free to <a href=\"%s/contact\">contact us</a>.<br>Primer-ID team @UNC<br>",
		strings.TrimSuffix(t.SiteURL, "/"))
}

// Receipt wraps the submission details sent when a worker starts.
func (t Templates) Receipt(details string) string {
	return fmt.Sprintf(
		"<html><body>Your submission details are below:<br><br>%s<br><br>You will receive an email when your results are ready for download.%s</body></html>",
		details, t.Signature())
}

// Results links the signed download URL. extra is inserted after the link, e.g. a report link.
func (t Templates) Results(signedURL, extra string) string {
	expires := t.now().AddDate(0, 0, ResultsLinkTTLDays).Format("01/02/2006")
	link := fmt.Sprintf(
		"<a href='%s' style='font-size: 16px;'>Download Results</a><br><small>This link expires %s</small>",
		signedURL, expires)
	return fmt.Sprintf("<html><body>Your results are ready for download.<br><br>%s%s%s</body></html>",
		link, extra, t.Signature())
}

// Failure is the plain message body used for error and stale notices.
func (t Templates) Failure(msg string) string {
	return strings.ReplaceAll(msg, "\n", "<br>") + t.Signature()
}

// SequenceNames lists the names of the records of a FASTA document.
func SequenceNames(fasta string) string {
	var names []string
	for _, line := range strings.Split(fasta, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, ">") {
			names = append(names, strings.TrimPrefix(line, ">"))
		}
	}
	return "<u>Sequences</u></br>" + strings.Join(names, "</br>")
}

// KeyValues renders a titled block of "k: v" lines sorted by key.
func KeyValues(title string, kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, kv[k]))
	}
	return fmt.Sprintf("<u>%s</u>:<br>%s", title, strings.Join(lines, "<br>"))
}

// StaleEntry is one line of the operator digest. Err is set when the job type
// could not be listed at all.
type StaleEntry struct {
	Endpoint string
	Count    int
	Err      error
}

func (e StaleEntry) String() string {
	if e.Err != nil {
		return fmt.Sprintf("Failed to fetch %s", e.Endpoint)
	}
	return fmt.Sprintf("(%d) Stale submissions at API endpoint %s.", e.Count, e.Endpoint)
}

// StaleDigest renders the operator digest, or "" when there is nothing to report.
func StaleDigest(entries []StaleEntry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.Err == nil && e.Count == 0 {
			continue
		}
		b.WriteString("</br></br>")
		b.WriteString(e.String())
	}
	if b.Len() == 0 {
		return ""
	}
	return "<h1>Stale Submissions</h1>" + b.String()
}
