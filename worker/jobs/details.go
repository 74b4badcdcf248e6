package jobs

import (
	"fmt"
)

// Common holds the fields every job store detail carries.
type Common struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	// Name is the submitter's name for the results; empty means derive one.
	Name            string `json:"jobID"`
	Format          string `json:"resultsFormat"`
	EmailAddress    string `json:"email"`
	Submit          bool   `json:"submit"`
	Pending         bool   `json:"pending"`
	ProcessingError bool   `json:"processingError"`
}

func (c Common) Email() string         { return c.EmailAddress }
func (c Common) ResultsFormat() string { return c.Format }

func (c Common) nameOr(prefix string) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s_%s", prefix, c.ID)
}

type IntactnessDetail struct {
	Common
	Sequences string `json:"sequences"`
}

func (d IntactnessDetail) JobID() string { return d.nameOr("intactness") }

type CoreceptorDetail struct {
	Common
	Sequences string `json:"sequences"`
}

func (d CoreceptorDetail) JobID() string { return d.nameOr("coreceptor") }

type OGVUpload struct {
	FileName string `json:"fileName"`
	LibName  string `json:"libName"`
}

type OGVDetail struct {
	Common
	Uploads []OGVUpload `json:"uploads"`
	// Conversion maps a sample to its start of ART, in days.
	Conversion map[string]string `json:"conversion"`
}

func (d OGVDetail) JobID() string { return d.nameOr("ogv") }

// Upload is a sequencing file sitting in the job's bucket prefix.
type Upload struct {
	FileName string `json:"fileName"`
	PoolName string `json:"poolName"`
}

// Primer is one primer pair of a TCS submission, as the job store stores it.
type Primer struct {
	Region         string  `json:"region"`
	Supermajority  float64 `json:"supermajority"`
	Forward        string  `json:"forward"`
	CDNA           string  `json:"cdna"`
	EndJoin        bool    `json:"endJoin"`
	EndJoinOption  *int    `json:"endJoinOption"`
	EndJoinOverlap *int    `json:"endJoinOverlap"`
	QC             bool    `json:"qc"`
	RefGenome      *string `json:"refGenome"`
	RefStart       *int    `json:"refStart"`
	RefEnd         *int    `json:"refEnd"`
	AllowIndels    bool    `json:"allowIndels"`
	Trim           *bool   `json:"trim"`
	TrimGenome     *string `json:"trimGenome"`
	TrimStart      *int    `json:"trimStart"`
	TrimEnd        *int    `json:"trimEnd"`
}

type TCSDetail struct {
	Common
	Uploads        []Upload `json:"uploads"`
	Primers        []Primer `json:"primers"`
	Dropbox        string   `json:"dropbox"`
	HTSF           string   `json:"htsf"`
	ErrorRate      *float64 `json:"errorRate"`
	PlatformFormat *int     `json:"platformFormat"`
	PoolName       string   `json:"poolName"`
	DRVersion      string   `json:"drVersion"`
}

// IsDR is true for drug resistance submissions, which carry no primers.
func (d TCSDetail) IsDR() bool { return len(d.Primers) == 0 }

// Pool names the samples directory and the results. DR jobs always use TCSDR.
func (d TCSDetail) Pool() string {
	if d.IsDR() || d.PoolName == "" {
		return "TCSDR"
	}
	return d.PoolName
}

// Kind is "DR" or "TCS", as shown in email subjects.
func (d TCSDetail) Kind() string {
	if d.IsDR() {
		return "DR"
	}
	return "TCS"
}

// JobID ignores the submitted name: results are always named after the pool.
func (d TCSDetail) JobID() string {
	if d.IsDR() {
		return "dr_" + d.Pool()
	}
	return "tcs_" + d.Pool()
}

type SplicingDetail struct {
	Common
	Strain   string   `json:"strain"`
	Assay    string   `json:"assay"`
	Distance int      `json:"distance"`
	Sequence string   `json:"sequence"`
	HTSF     string   `json:"htsf"`
	PoolName string   `json:"poolName"`
	Uploads  []Upload `json:"uploads"`
}

func (d SplicingDetail) JobID() string {
	if d.PoolName != "" {
		return d.PoolName
	}
	return "splicing_" + d.ID
}
