// Package xmlmode detects whether an XML document is validated against a
// DTD or an XML Schema, so a caller can configure its parser before
// parsing.
//
// Detection reads the document line by line, skipping comment content. A
// DOCTYPE declaration before the first opening tag means [ValidationDTD];
// an opening tag without one means [ValidationXSD]. A document that cannot
// be decoded yields [ValidationAuto], leaving the choice to the parser.
//
// # Basic Usage
//
//	f, err := os.Open("beans.xml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mode, err := xmlmode.Detect(f) // closes f
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	switch mode {
//	case xmlmode.ValidationDTD:
//	    // enable DTD validation
//	case xmlmode.ValidationXSD:
//	    // enable schema validation
//	}
//
// # Encodings
//
// Documents are read as UTF-8 by default, strictly: invalid bytes make the
// scan give up with [ValidationAuto]. Other encodings are selected by name:
//
//	d, err := xmlmode.NewDetector(xmlmode.WithEncoding("ISO-8859-1"))
//
// A byte order mark (UTF-8, UTF-16LE, UTF-16BE) always wins over the
// configured encoding.
//
// # Resolving Documents From a Source
//
// A [Resolver] reads documents from a [Source] (see driver/local,
// driver/memory and driver/zip, and the read-only remote drivers
// driver/s3, driver/gcs, driver/azure and driver/sftp), honours a
// configured mode, caches results, and scans whole trees:
//
//	src, _ := local.New("./config")
//	r, _ := xmlmode.NewResolver(src, xmlmode.WithCache(xmlmode.NewModeCache()))
//
//	mode, err := r.ModeFor(ctx, "beans.xml")
//	results, err := r.DetectAll(ctx, "", "**.xml")
//
// [Resolver.DetectSelected] takes a [Selector] instead of a pattern, and
// prunes directories the selector does not descend into:
//
//	sel := xmlmode.And(xmlmode.MustGlob("**.xml", ""), xmlmode.Skip("target", ".git"))
//	results, err := r.DetectSelected(ctx, "", sel)
//
// A [MountSource] combines several sources under path prefixes, the way a
// classpath combines directories and archives.
//
// Sources without file system events watch by polling; see [PollWatch].
//
// # Configuration
//
// [GetConfig] loads settings from the environment (prefix BEAVER_):
//
//	BEAVER_XMLMODE_VALIDATION_MODE=auto
//	BEAVER_XMLMODE_ENCODING=
//	BEAVER_XMLMODE_DRIVER=local
//	BEAVER_XMLMODE_LOCAL_BASE_PATH=.
//	BEAVER_XMLMODE_CACHE_ENABLED=true
package xmlmode
