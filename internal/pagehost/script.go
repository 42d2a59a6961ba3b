package pagehost

// hookScript installs the in-page input listeners and the history-API hook.
// Events accumulate in window.__recordioEvents until the drain loop collects
// them. The guard keeps repeated installs idempotent within one document.
const hookScript = `
() => {
	const w = window;
	if (w.__recordioHooked) return true;
	w.__recordioHooked = true;
	w.__recordioEvents = w.__recordioEvents || [];

	const describe = (el) => {
		if (!el || !el.getBoundingClientRect) return null;
		let kind = 'other';
		let inputType = '';
		const tag = (el.tagName || '').toLowerCase();
		if (tag === 'input') {
			kind = 'input';
			inputType = (el.type || 'text').toLowerCase();
		} else if (tag === 'textarea') {
			kind = 'textarea';
		} else if (el.isContentEditable) {
			kind = 'contenteditable';
		}
		if (!el.__recordioId) {
			w.__recordioNextId = (w.__recordioNextId || 0) + 1;
			el.__recordioId = 'el-' + w.__recordioNextId;
		}
		const r = el.getBoundingClientRect();
		return {
			id: el.__recordioId,
			kind: kind,
			inputType: inputType,
			left: r.left, top: r.top, width: r.width, height: r.height
		};
	};
	w.__recordioDescribe = describe;

	const push = (ev) => {
		ev.ts = Date.now();
		w.__recordioEvents.push(ev);
		if (w.__recordioEvents.length > 4096) w.__recordioEvents.shift();
	};

	document.addEventListener('mousedown', (ev) => {
		try {
			push({ type: 'pointer', down: true, x: ev.clientX, y: ev.clientY,
				target: describe(ev.target) || {} });
		} catch (e) {}
	}, true);

	document.addEventListener('mouseup', (ev) => {
		try {
			push({ type: 'pointer', down: false, x: ev.clientX, y: ev.clientY,
				target: describe(ev.target) || {} });
		} catch (e) {}
	}, true);

	let lastMove = 0;
	document.addEventListener('mousemove', (ev) => {
		try {
			const now = Date.now();
			if (now - lastMove < 30) return;
			lastMove = now;
			push({ type: 'move', x: ev.clientX, y: ev.clientY });
		} catch (e) {}
	}, true);

	document.addEventListener('keydown', (ev) => {
		try {
			const mods = [];
			if (ev.shiftKey) mods.push('Shift');
			if (ev.ctrlKey) mods.push('Control');
			if (ev.altKey) mods.push('Alt');
			if (ev.metaKey) mods.push('Meta');
			push({ type: 'key', key: ev.key, mods: mods,
				target: describe(ev.target) || {} });
		} catch (e) {}
	}, true);

	document.addEventListener('wheel', (ev) => {
		try {
			push({ type: 'scroll', x: ev.clientX, y: ev.clientY,
				dx: ev.deltaX, dy: ev.deltaY });
		} catch (e) {}
	}, { capture: true, passive: true });

	const reportNav = () => {
		try {
			push({ type: 'navigation', url: w.location.href });
		} catch (e) {}
	};

	const origPush = history.pushState;
	history.pushState = function () {
		const ret = origPush.apply(this, arguments);
		reportNav();
		return ret;
	};
	const origReplace = history.replaceState;
	history.replaceState = function () {
		const ret = origReplace.apply(this, arguments);
		reportNav();
		return ret;
	};
	w.addEventListener('popstate', reportNav);

	return true;
}
`
