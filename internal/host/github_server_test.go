package host

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// githubServer is an in-memory subset of the GitHub git data and pulls API.
type githubServer struct {
	mu      sync.Mutex
	refs    map[string]string // branch -> commit sha
	commits map[string]ghCommit
	trees   map[string]map[string]string // tree sha -> path -> blob sha
	blobs   map[string][]byte
	pulls   []*ghPull
	seq     int

	requests []string
	auth     string
	// intercept may answer a request before the fake does.
	intercept func(w http.ResponseWriter, r *http.Request) bool
}

type ghCommit struct {
	tree    string
	parents []string
	message string
}

type ghPull struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
	head    string
	base    string
}

func newGitHubServer(t *testing.T) (*githubServer, *httptest.Server) {
	t.Helper()
	s := &githubServer{
		refs:    make(map[string]string),
		commits: make(map[string]ghCommit),
		trees:   make(map[string]map[string]string),
		blobs:   make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/heads/{branch...}", s.getRef)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/refs", s.createRef)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/git/refs/heads/{branch...}", s.updateRef)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/trees/{sha}", s.getTree)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/trees", s.createTree)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/blobs/{sha}", s.getBlob)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/blobs", s.createBlob)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/commits/{sha}", s.getCommit)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/commits", s.createCommit)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls", s.listPulls)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", s.createPull)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/pulls/{number}", s.editPull)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.auth = r.Header.Get("Authorization")
		intercept := s.intercept
		s.mu.Unlock()
		if intercept != nil && intercept(w, r) {
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *githubServer) id(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%04d", prefix, s.seq)
}

// seedBranch commits files as the whole tree of a new commit on branch.
func (s *githubServer) seedBranch(branch string, files map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := make(map[string]string, len(files))
	for p, c := range files {
		sha := s.id("blob")
		s.blobs[sha] = []byte(c)
		tree[p] = sha
	}
	treeSHA := s.id("tree")
	s.trees[treeSHA] = tree
	var parents []string
	if head, ok := s.refs[branch]; ok {
		parents = []string{head}
	}
	sha := s.id("commit")
	s.commits[sha] = ghCommit{tree: treeSHA, parents: parents, message: "seed"}
	s.refs[branch] = sha
	return sha
}

func (s *githubServer) files(branch string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for p, sha := range s.trees[s.commits[s.refs[branch]].tree] {
		out[p] = string(s.blobs[sha])
	}
	return out
}

func (s *githubServer) head(branch string) ghCommit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[s.refs[branch]]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func refJSON(branch, sha string) map[string]any {
	return map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"sha": sha, "type": "commit"},
	}
}

func (s *githubServer) getRef(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch := r.PathValue("branch")
	sha, ok := s.refs[branch]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, refJSON(branch, sha))
}

func (s *githubServer) createRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	branch := strings.TrimPrefix(body.Ref, "refs/heads/")
	if _, ok := s.refs[branch]; ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Reference already exists"})
		return
	}
	s.refs[branch] = body.SHA
	writeJSON(w, http.StatusCreated, refJSON(branch, body.SHA))
}

func (s *githubServer) updateRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	branch := r.PathValue("branch")
	current, ok := s.refs[branch]
	if !ok {
		notFound(w)
		return
	}
	if !body.Force {
		parents := s.commits[body.SHA].parents
		if len(parents) == 0 || parents[0] != current {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Update is not a fast forward"})
			return
		}
	}
	s.refs[branch] = body.SHA
	writeJSON(w, http.StatusOK, refJSON(branch, body.SHA))
}

func (s *githubServer) getTree(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := r.PathValue("sha")
	if c, ok := s.commits[sha]; ok {
		sha = c.tree
	}
	tree, ok := s.trees[sha]
	if !ok {
		notFound(w)
		return
	}

	dirs := make(map[string]bool)
	var entries []map[string]string
	for p, blob := range tree {
		entries = append(entries, map[string]string{"path": p, "mode": "100644", "type": "blob", "sha": blob})
		for d := path.Dir(p); d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	for d := range dirs {
		entries = append(entries, map[string]string{"path": d, "mode": "040000", "type": "tree", "sha": "dir-" + d})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i]["path"] < entries[j]["path"] })
	writeJSON(w, http.StatusOK, map[string]any{"sha": sha, "tree": entries, "truncated": false})
}

func (s *githubServer) createTree(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string  `json:"path"`
			SHA  *string `json:"sha"`
		} `json:"tree"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	tree := make(map[string]string)
	for p, sha := range s.trees[body.BaseTree] {
		tree[p] = sha
	}
	for _, e := range body.Tree {
		if e.SHA == nil {
			delete(tree, e.Path)
			continue
		}
		tree[e.Path] = *e.SHA
	}
	sha := s.id("tree")
	s.trees[sha] = tree
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (s *githubServer) getBlob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.blobs[r.PathValue("sha")]
	if !ok {
		notFound(w)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.github.v3.raw")
	_, _ = w.Write(content)
}

func (s *githubServer) createBlob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil || body.Encoding != "base64" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "bad blob"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sha := s.id("blob")
	s.blobs[sha] = content
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (s *githubServer) getCommit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := r.PathValue("sha")
	c, ok := s.commits[sha]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sha":     sha,
		"message": c.message,
		"tree":    map[string]string{"sha": c.tree},
	})
}

func (s *githubServer) createCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	sha := s.id("commit")
	s.commits[sha] = ghCommit{tree: body.Tree, parents: body.Parents, message: body.Message}
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (s *githubServer) listPulls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*ghPull{}
	for _, pr := range s.pulls {
		owner := r.PathValue("owner")
		if q.Get("head") == owner+":"+pr.head && (q.Get("base") == "" || q.Get("base") == pr.base) {
			out = append(out, pr)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *githubServer) createPull(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range s.pulls {
		if pr.head == body.Head {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "A pull request already exists"})
			return
		}
	}
	n := len(s.pulls) + 1
	pr := &ghPull{
		Number:  n,
		HTMLURL: fmt.Sprintf("https://github.test/%s/%s/pull/%d", r.PathValue("owner"), r.PathValue("repo"), n),
		Title:   body.Title,
		head:    body.Head,
		base:    body.Base,
	}
	s.pulls = append(s.pulls, pr)
	writeJSON(w, http.StatusCreated, pr)
}

func (s *githubServer) editPull(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title *string `json:"title"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	n, _ := strconv.Atoi(r.PathValue("number"))
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.pulls) {
		notFound(w)
		return
	}
	pr := s.pulls[n-1]
	if body.Title != nil {
		pr.Title = *body.Title
	}
	writeJSON(w, http.StatusOK, pr)
}
