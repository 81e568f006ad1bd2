// Package scopeserve serves precomputed single-cell analysis results to an
// interactive client.
//
// Each dataset is a genes × cells matrix file with per-gene, per-cell and
// global attributes. A Server ties together the pieces a request needs:
//
//   - connection: one live handle per dataset file, shared read-only or
//     exclusive read-write
//   - session: anonymous session ids with expiry, admission control and
//     per-session private directories
//   - search: a per-dataset index over genes, regulons, clusters,
//     annotations and metrics, queried with ranked prefix matching
//   - color: the feature-to-colour pipeline producing one colour per cell
//
// # Quick Start
//
//	srv, err := scopeserve.New("./data", scopeserve.WithLogLevel(slog.LevelInfo))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//
//	info, _ := srv.ResolveSession(ctx, cookie, clientIP, interactions)
//	datasets, _ := srv.ListDatasets(ctx, info.ID)
//
//	res, _ := srv.Search(ctx, scopeserve.SearchRequest{
//	    SessionID: info.ID,
//	    Path:      datasets[0].Path,
//	    Query:     "sox",
//	})
//
//	colors, _ := srv.CellColors(ctx, scopeserve.ColorRequest{
//	    SessionID: info.ID,
//	    Path:      datasets[0].Path,
//	    Types:     []string{"gene", "gene", "regulon"},
//	    Features:  []string{"SOX2", "", "SOX9_(+)"},
//	})
//
// # Layout
//
// The data root holds the session files (UUID_Timeouts.tsv,
// Permanent_Session_IDs.txt, ORCID_IDs.txt and the daily audit logs) and the
// area directories my-looms, my-gene-sets and my-aucell-rankings. Global
// datasets live at the top of my-looms; private datasets in
// my-looms/<session id>/. Search indexes are persisted next to their dataset
// unless WithIndexStore selects another blob store.
//
// Package config turns a TOML file into Options; cmd/scopectl uses it for
// offline index builds and session sweeps.
//
// # Errors
//
// Operations return errors matching ErrNotFound, ErrMalformed, ErrConflict,
// ErrUnauthorized or ErrUnavailable; the package error is wrapped and stays
// reachable through errors.Is.
package scopeserve
