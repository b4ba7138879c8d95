package cdpcontrol

import (
	"github.com/dgnsrekt/tabreuse/internal/urlflags"
)

// commandScript returns the page-context expression for cmd.
func commandScript(cmd urlflags.Command) (string, error) {
	switch cmd.Name {
	case urlflags.CommandCopyCookies:
		return jsCopyCookies(), nil
	case urlflags.CommandDeleteCookie:
		return jsDeleteStorage(cmd.Value, false), nil
	case urlflags.CommandDeleteCookies:
		return jsDeleteStorage(cmd.Value, true), nil
	default:
		return "", newError(CodeValidation, "unknown command: "+cmd.Name, nil)
	}
}

const jsReadStorage = `
var cookies = {};
(document.cookie || "").split(";").forEach(function(part) {
  var i = part.indexOf("=");
  if (i < 0) { return; }
  var k = part.slice(0, i).trim();
  if (k) { cookies[k] = part.slice(i + 1).trim(); }
});
var local = {};
try {
  for (var n = 0; n < window.localStorage.length; n++) {
    var key = window.localStorage.key(n);
    local[key] = window.localStorage.getItem(key);
  }
} catch (e) {}
`

// jsCopyCookies snapshots cookies and localStorage and tries to put the
// snapshot on the clipboard. Clipboard access fails on unfocused pages; the
// snapshot is returned either way.
func jsCopyCookies() string {
	return wrapJSEvalAsync(jsReadStorage + `
var payload = JSON.stringify({cookies: cookies, local_storage: local}, null, 2);
var copied = false;
var note = "";
try {
  if (navigator.clipboard && navigator.clipboard.writeText) {
    await navigator.clipboard.writeText(payload);
    copied = true;
  } else {
    note = "clipboard API unavailable";
  }
} catch (e) {
  note = String(e && e.message || e);
}
return JSON.stringify({ok:true,data:{command:"` + urlflags.CommandCopyCookies + `",cookies:cookies,local_storage:local,copied:copied,clipboard_note:note}});
`)
}

// jsDeleteStorage expires matching cookies on the current path and every
// parent domain, and removes matching localStorage keys. With prefix set,
// every key starting with target matches; otherwise only target itself.
func jsDeleteStorage(target string, prefix bool) string {
	name := urlflags.CommandDeleteCookie
	if prefix {
		name = urlflags.CommandDeleteCookies
	}
	mode := "false"
	if prefix {
		mode = "true"
	}
	return wrapJSEval(`var target = ` + jsString(target) + `;
var prefix = ` + mode + `;
if (!target) {
  return JSON.stringify({ok:false,error_code:"` + CodeValidation + `",error_message:"empty cookie name"});
}
` + jsReadStorage + `
function hit(k) { return prefix ? k.indexOf(target) === 0 : k === target; }
var domains = [""];
var parts = location.hostname.split(".");
for (var d = 0; d < parts.length - 1; d++) {
  var dom = parts.slice(d).join(".");
  domains.push(";domain=" + dom, ";domain=." + dom);
}
var paths = [";path=/"];
var segs = location.pathname.split("/");
for (var p = 1; p < segs.length; p++) {
  paths.push(";path=" + segs.slice(0, p + 1).join("/"));
}
var deleted = [];
Object.keys(cookies).forEach(function(k) {
  if (!hit(k)) { return; }
  domains.forEach(function(dm) {
    paths.forEach(function(pt) {
      document.cookie = k + "=;expires=Thu, 01 Jan 1970 00:00:00 GMT" + dm + pt;
    });
  });
  deleted.push("cookie:" + k);
});
Object.keys(local).forEach(function(k) {
  if (!hit(k)) { return; }
  try { window.localStorage.removeItem(k); deleted.push("local_storage:" + k); } catch (e) {}
});
return JSON.stringify({ok:true,data:{command:"` + name + `",deleted:deleted}});`)
}
