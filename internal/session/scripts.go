package session

// initScript is installed once per page via AddInitScript so it runs on
// every document load, including the one after a reload/navigation.
// It is grounded on the teacher pack's DOM-mutation-observer-over-
// WebSocket bridge (other_examples/raiden-staging-kernel-images__domsync.go's
// observerScript): a MutationObserver plus scroll/resize listeners
// feeding a flag the core polls, rather than pushing events itself.
//
// Unlike domsync's script, this one never talks to the page's network
// layer or calls back into Go directly — spec.md's consume-dirty probe
// reads and clears __hb.dirty from the outside on each loop iteration.
const initScript = `
(function() {
  function blackout() {
    try {
      if (document.documentElement) document.documentElement.style.backgroundColor = '#000';
      if (document.body) document.body.style.backgroundColor = '#000';
    } catch (e) {}
  }
  blackout();
  document.addEventListener('DOMContentLoaded', blackout);

  window.__hb = window.__hb || { dirty: true, dirtyTs: Date.now(), seq: 0 };

  function markDirty() {
    window.__hb.dirty = true;
    window.__hb.dirtyTs = Date.now();
    window.__hb.seq += 1;
  }

  function attachObserver() {
    var target = document.documentElement || document.body;
    if (!target) {
      setTimeout(attachObserver, 20);
      return;
    }
    try {
      new MutationObserver(markDirty).observe(target, {
        subtree: true,
        childList: true,
        attributes: true,
        characterData: true
      });
    } catch (e) {}
  }
  attachObserver();

  window.addEventListener('resize', markDirty, { passive: true });
  window.addEventListener('scroll', markDirty, { passive: true });
})();
`

// consumeDirtyScript reads and clears __hb.dirty, returning the prior
// value. Absence of __hb counts as not dirty (spec.md §4.1).
const consumeDirtyScript = `
(function() {
  if (!window.__hb) return false;
  var was = !!window.__hb.dirty;
  window.__hb.dirty = false;
  return was;
})();
`

// paintDebounceScript waits two nested animation frames before a
// capture, to avoid photographing a transient DOM state (spec.md §4.1
// step 6 and the Open Questions: "the paint-debounce (double RAF)...
// must not be removed").
const paintDebounceScript = `
new Promise(function(resolve) {
  requestAnimationFrame(function() {
    requestAnimationFrame(function() {
      resolve(true);
    });
  });
});
`
